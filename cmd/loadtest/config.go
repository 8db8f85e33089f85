package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type loadMode string

const (
	modeCommit        loadMode = "commit"
	modeCommitReceipt loadMode = "commit-receipt"
	modeCommitVoid    loadMode = "commit-void"
)

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	switch mode {
	case modeCommit, modeCommitReceipt, modeCommitVoid:
		return mode, nil
	}
	return "", fmt.Errorf("unsupported mode: %s", value)
}

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	voidRate    int
	outputPath  string

	// параметры продажи, одинаковые для всех сценариев
	currency       string
	sku            string
	quantity       int64
	unitPriceMinor int64
	paymentMethod  string
	customerRef    string
	allowShortage  bool
}

func parseConfig(args []string) (config, error) {
	var (
		cfg  config
		mode string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "pos-engine gRPC address")
	fs.IntVar(&cfg.total, "total", 400, "sales to attempt; with -duration acts as an upper bound only when set explicitly")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count (e.g. 5m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent cashiers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections shared by cashiers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&mode, "mode", string(modeCommit), "commit | commit-receipt | commit-void")
	fs.IntVar(&cfg.voidRate, "void-rate", 0, "percent of sales voided in commit and commit-receipt modes")
	fs.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	fs.StringVar(&cfg.currency, "currency", "USD", "cart currency")
	fs.StringVar(&cfg.sku, "sku", "sku-1", "catalog item sold by every cashier")
	fs.Int64Var(&cfg.quantity, "quantity", 1, "units per sale")
	fs.Int64Var(&cfg.unitPriceMinor, "unit-price-minor", 0, "price override in minor units; 0 takes the catalog price")
	fs.StringVar(&cfg.paymentMethod, "payment", string(domain.PaymentMethodCash), "cash | card | transfer | other")
	fs.StringVar(&cfg.customerRef, "customer", "", "customer reference; empty sells to walk-in")
	fs.BoolVar(&cfg.allowShortage, "allow-shortage", false, "treat insufficient_stock rejections as expected")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		cfg.totalSet = cfg.totalSet || f.Name == "total"
	})

	parsed, err := parseMode(mode)
	if err != nil {
		return cfg, err
	}
	cfg.mode = parsed
	cfg.currency = strings.ToUpper(strings.TrimSpace(cfg.currency))
	cfg.sku = strings.TrimSpace(cfg.sku)

	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.duration < 0:
		return errors.New("duration must be >= 0")
	case c.duration == 0 && c.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case c.duration > 0 && c.totalSet && c.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case c.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case c.connections <= 0:
		return errors.New("connections must be > 0")
	case c.timeout <= 0:
		return errors.New("timeout must be > 0")
	case c.voidRate < 0 || c.voidRate > 100:
		return errors.New("void-rate must be between 0 and 100")
	case c.currency == "":
		return errors.New("currency is required")
	case c.sku == "":
		return errors.New("sku is required")
	case c.quantity <= 0:
		return errors.New("quantity must be > 0")
	case c.unitPriceMinor < 0:
		return errors.New("unit-price-minor must be >= 0")
	case !domain.PaymentMethod(c.paymentMethod).Valid():
		return fmt.Errorf("unsupported payment method: %s", c.paymentMethod)
	}
	return nil
}

// target описывает условие остановки для отчёта.
func (c config) target() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("count:%d", c.total)
	case c.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	}
	return fmt.Sprintf("duration:%s", c.duration)
}
