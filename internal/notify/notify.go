// Package notify delivers undercut alerts to subscribers.
package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/logging"
	"github.com/JakeFAU/price-sentinel/internal/metrics"
)

// Alert tells a subscriber that a competitor sells below the product's price.
type Alert struct {
	To            string  `json:"to"`
	Subject       string  `json:"subject"`
	Body          string  `json:"body"`
	ProductName   string  `json:"product_name"`
	EnemyName     string  `json:"enemy_name"`
	EnemyPrice    float64 `json:"enemy_price"`
	OriginalPrice float64 `json:"original_price"`
}

// Notifier delivers one alert.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// FormatBody renders the plain-text alert body.
func FormatBody(productName, enemyName string, enemyPrice, originalPrice float64) string {
	return fmt.Sprintf(
		"%s is selling %s for %.0f, below your current price of %.0f (difference %.0f).",
		enemyName, productName, enemyPrice, originalPrice, originalPrice-enemyPrice,
	)
}

// LogNotifier writes alerts to the log. It is the default backend.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.Component(logger, "notify")}
}

// Notify logs the alert.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Info("price alert",
		zap.String("to", alert.To),
		zap.String("subject", alert.Subject),
		zap.String("product", alert.ProductName),
		zap.String("enemy", alert.EnemyName),
		zap.Float64("enemy_price", alert.EnemyPrice),
		zap.Float64("original_price", alert.OriginalPrice),
	)
	metrics.ObserveAlert("log", nil)
	return nil
}

// Memory records alerts for inspection.
type Memory struct {
	mu     sync.RWMutex
	alerts []Alert
	// Err, when set, is returned by every Notify call.
	Err error
}

// NewMemory returns an empty Memory notifier.
func NewMemory() *Memory {
	return &Memory{}
}

// Notify records the alert unless Err is set.
func (m *Memory) Notify(_ context.Context, alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// Alerts returns the recorded alerts.
func (m *Memory) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
