package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/pos/internal/api"
	"github.com/vladislavdragonenkov/pos/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/pos/internal/service/grpc"
)

const (
	idempotencyHeader = "idempotency-key"
	voidReason        = "load-void"
)

var errEmptySaleID = errors.New("commit response returned empty sale id")

// saleClient - часть pos.v1.SaleService, которую нагружает генератор.
type saleClient interface {
	CommitSale(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	VoidSale(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetReceipt(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// cashier проводит продажи через один gRPC-клиент.
type cashier struct {
	client saleClient
	cfg    config
	runID  string
	stats  *collector
}

// sell проводит продажу номер index и, в зависимости от режима, запрашивает
// чек или аннулирует её. Ключ идемпотентности уникален для пары (runID, index).
func (c *cashier) sell(ctx context.Context, index int) (err error) {
	started := time.Now()
	defer func() {
		c.stats.record(scenarioMethod, time.Since(started), scenarioStatus(err))
	}()

	sale, err := c.commit(ctx, c.saleKey(index))
	if err != nil {
		if c.cfg.allowShortage && status.Code(err) == codes.FailedPrecondition {
			c.stats.recordShortage()
			return nil
		}
		return err
	}
	if sale.ID == "" {
		return errEmptySaleID
	}

	if c.cfg.mode == modeCommitReceipt {
		if err := c.receipt(ctx, sale.ID); err != nil {
			return err
		}
	}

	voided := c.cfg.mode == modeCommitVoid || voidsSale(index, c.cfg.voidRate)
	if voided {
		if err := c.void(ctx, sale.ID); err != nil {
			return err
		}
	}
	c.stats.recordSale(sale.TotalMinor, voided)
	return nil
}

// scenarioStatus переводит локальные сбои сценария в codes.Internal.
func scenarioStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

func (c *cashier) saleKey(index int) string {
	return fmt.Sprintf("lt-sale-%s-%d", c.runID, index)
}

func (c *cashier) commitRequest() api.CommitSaleRequest {
	return api.CommitSaleRequest{
		PaymentMethod: c.cfg.paymentMethod,
		CartRequest: api.CartRequest{
			Currency:    c.cfg.currency,
			CustomerRef: c.cfg.customerRef,
			Lines: []api.LineRequest{{
				Kind:           string(domain.LineKindProduct),
				RefID:          c.cfg.sku,
				Quantity:       c.cfg.quantity,
				UnitPriceMinor: c.cfg.unitPriceMinor,
			}},
		},
	}
}

// timed выполняет RPC с таймаутом и учитывает его под именем method.
func (c *cashier) timed(ctx context.Context, method string, call func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	started := time.Now()
	err := call(ctx)
	c.stats.record(method, time.Since(started), err)
	return err
}

func (c *cashier) commit(ctx context.Context, key string) (api.Sale, error) {
	in, err := grpcsvc.EncodeStruct(c.commitRequest())
	if err != nil {
		return api.Sale{}, err
	}

	var out *structpb.Struct
	err = c.timed(ctx, "CommitSale", func(ctx context.Context) error {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)
		var callErr error
		out, callErr = c.client.CommitSale(ctx, in)
		return callErr
	})
	if err != nil {
		return api.Sale{}, err
	}

	var sale api.Sale
	if err := grpcsvc.DecodeStruct(out, &sale); err != nil {
		return api.Sale{}, err
	}
	return sale, nil
}

func (c *cashier) void(ctx context.Context, saleID string) error {
	in, err := structpb.NewStruct(map[string]any{"sale_id": saleID, "reason": voidReason})
	if err != nil {
		return err
	}
	return c.timed(ctx, "VoidSale", func(ctx context.Context) error {
		_, err := c.client.VoidSale(ctx, in)
		return err
	})
}

func (c *cashier) receipt(ctx context.Context, saleID string) error {
	in, err := structpb.NewStruct(map[string]any{"sale_id": saleID})
	if err != nil {
		return err
	}
	return c.timed(ctx, "GetReceipt", func(ctx context.Context) error {
		_, err := c.client.GetReceipt(ctx, in)
		return err
	})
}

// voidsSale детерминированно аннулирует voidRate продаж из каждой сотни.
func voidsSale(index, voidRate int) bool {
	switch {
	case voidRate <= 0:
		return false
	case voidRate >= 100:
		return true
	}
	return index%100 < voidRate
}
