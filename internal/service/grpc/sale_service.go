// Package grpcsvc публикует кассовые операции по gRPC.
package grpcsvc

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/pos/internal/api"
	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/receipt"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
)

const idempotencyKeyHeader = "idempotency-key"

// SaleService - операции кассы, доступные по gRPC.
type SaleService interface {
	Replay(ctx context.Context, saleID string) (domain.Sale, bool, error)
	BuildCart(ctx context.Context, draft sale.CartDraft) (*domain.Cart, error)
	Commit(ctx context.Context, req sale.CommitRequest) (domain.Sale, error)
	Get(ctx context.Context, saleID string) (domain.Sale, error)
	Void(ctx context.Context, saleID, reason string) (domain.Sale, error)
	Receipt(ctx context.Context, saleID string) (receipt.Document, error)
	Quote(ctx context.Context, draft sale.CartDraft) (sale.Quote, error)
}

// SaleServer реализует pos.v1.SaleService.
type SaleServer struct {
	sales  SaleService
	logger *log.Entry
}

// NewSaleServer создаёт сервер.
func NewSaleServer(sales SaleService, logger *log.Entry) *SaleServer {
	if logger == nil {
		logger = log.WithField("component", "grpc-sale-service")
	}
	return &SaleServer{sales: sales, logger: logger}
}

type saleRef struct {
	SaleID string `json:"sale_id"`
	Reason string `json:"reason,omitempty"`
}

// CommitSale проводит продажу. Если sale_id не задан, используется metadata idempotency-key.
func (s *SaleServer) CommitSale(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.CommitSaleRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	if req.SaleID == "" {
		req.SaleID = readIdempotencyKey(ctx)
	}

	stored, replayed, err := s.sales.Replay(ctx, req.SaleID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	if replayed {
		return encodeStruct(api.FromSale(stored))
	}

	cart, err := s.sales.BuildCart(ctx, req.Draft())
	if err != nil {
		return nil, s.toStatus(err)
	}
	committed, err := s.sales.Commit(ctx, sale.CommitRequest{
		SaleID:        req.SaleID,
		Cart:          cart,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return encodeStruct(api.FromSale(committed))
}

// GetSale возвращает продажу по sale_id.
func (s *SaleServer) GetSale(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ref, err := decodeSaleRef(in)
	if err != nil {
		return nil, err
	}
	found, err := s.sales.Get(ctx, ref.SaleID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return encodeStruct(api.FromSale(found))
}

// VoidSale аннулирует продажу.
func (s *SaleServer) VoidSale(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ref, err := decodeSaleRef(in)
	if err != nil {
		return nil, err
	}
	voided, err := s.sales.Void(ctx, ref.SaleID, ref.Reason)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return encodeStruct(api.FromSale(voided))
}

// GetReceipt возвращает чек продажи.
func (s *SaleServer) GetReceipt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ref, err := decodeSaleRef(in)
	if err != nil {
		return nil, err
	}
	doc, err := s.sales.Receipt(ctx, ref.SaleID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return encodeStruct(doc)
}

// Quote считает итоги корзины без проведения.
func (s *SaleServer) Quote(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.CartRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	quote, err := s.sales.Quote(ctx, req.Draft())
	if err != nil {
		return nil, s.toStatus(err)
	}
	return encodeStruct(api.FromQuote(quote))
}

// toStatus переводит ошибку домена в gRPC-статус; тело api.Error прикладывается в details.
func (s *SaleServer) toStatus(err error) error {
	body := api.NewError(err)
	code := codeFor(body.Code)
	if code == codes.Internal {
		s.logger.WithError(err).Warn("grpc request failed")
	}

	st := status.New(code, body.Message)
	detail, encodeErr := encodeStruct(body)
	if encodeErr != nil {
		return st.Err()
	}
	withDetails, detailErr := st.WithDetails(detail)
	if detailErr != nil {
		return st.Err()
	}
	return withDetails.Err()
}

func codeFor(code api.ErrorCode) codes.Code {
	switch code {
	case api.CodeValidation:
		return codes.InvalidArgument
	case api.CodeInsufficientStock:
		return codes.FailedPrecondition
	case api.CodeContention:
		return codes.Aborted
	case api.CodeNotFound:
		return codes.NotFound
	case api.CodeCanceled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func decodeSaleRef(in *structpb.Struct) (saleRef, error) {
	var ref saleRef
	if err := decodeStruct(in, &ref); err != nil {
		return saleRef{}, err
	}
	if strings.TrimSpace(ref.SaleID) == "" {
		return saleRef{}, status.Error(codes.InvalidArgument, "sale_id is required")
	}
	return ref, nil
}

func decodeStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// DecodeStruct раскладывает ответ сервиса в DTO из пакета api.
func DecodeStruct(in *structpb.Struct, dst any) error {
	return decodeStruct(in, dst)
}

// EncodeStruct упаковывает DTO в google.protobuf.Struct.
func EncodeStruct(v any) (*structpb.Struct, error) {
	return encodeStruct(v)
}

func readIdempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(idempotencyKeyHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

var _ SaleServiceServer = (*SaleServer)(nil)
