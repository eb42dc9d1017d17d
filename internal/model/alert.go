package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RiskAlert 接近清算时产生的告警
type RiskAlert struct {
	Account    common.Address `json:"account"`
	Indicators RiskIndicators `json:"indicators"`
	Message    string         `json:"message"`
	CreatedAt  time.Time      `json:"created_at"`
}
