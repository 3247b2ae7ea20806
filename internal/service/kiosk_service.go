package service

import (
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/domain"
	"github.com/spec-kit/sorting-kiosk/internal/ratelimit"
	"github.com/spec-kit/sorting-kiosk/internal/transport"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

const (
	binsDocument       = `query Bins { bins { id category fillPercent updatedAt } }`
	binUpdatedDocument = `subscription BinUpdated { binUpdated { id category fillPercent updatedAt } }`
)

type binsPayload struct {
	Bins []domain.BinStatus `json:"bins"`
}

type binUpdatedPayload struct {
	BinUpdated domain.BinStatus `json:"binUpdated"`
}

// BinUpdate is one live bin event, or the failure that ended the feed.
type BinUpdate struct {
	Bin domain.BinStatus
	Err error
}

// KioskService exposes the kiosk's own remote operations.
type KioskService struct {
	router  *transport.Router
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewKioskService builds the service.
func NewKioskService(router *transport.Router, limiter *ratelimit.Limiter, logger *zap.Logger) *KioskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KioskService{router: router, limiter: limiter, logger: logger}
}

// UploadScan sends an item photo for classification.
func (s *KioskService) UploadScan(ctx context.Context, fileName, contentType string, photo io.Reader) (*domain.ScanResult, error) {
	res, err := ratelimit.Do(s.limiter, ratelimit.CategoryUpload, func() (*transport.Result, error) {
		return s.router.Upload(ctx, transport.UploadRequest{
			Name:        "UploadScan",
			FieldName:   "photo",
			FileName:    fileName,
			ContentType: contentType,
			Body:        photo,
		})
	})
	if err != nil {
		return nil, err
	}
	var scan domain.ScanResult
	if err := json.Unmarshal(res.Data, &scan); err != nil {
		return nil, apperrors.Describe(&apperrors.GenericFailure{Message: "malformed scan result"})
	}
	return &scan, nil
}

// Bins returns the bin list, served from cache when already fetched.
func (s *KioskService) Bins(ctx context.Context) ([]domain.BinStatus, error) {
	res, err := s.router.Do(ctx, transport.Operation{
		Name:     "Bins",
		Kind:     transport.KindQuery,
		Document: binsDocument,
	})
	if err != nil {
		return nil, err
	}
	var payload binsPayload
	if err := json.Unmarshal(res.Data, &payload); err != nil {
		return nil, apperrors.Describe(&apperrors.GenericFailure{Message: "malformed bin list"})
	}
	return payload.Bins, nil
}

// WatchBins subscribes to live bin updates. The returned channel closes when
// ctx is done or the subscription ends.
func (s *KioskService) WatchBins(ctx context.Context) (<-chan BinUpdate, error) {
	res, err := s.router.Do(ctx, transport.Operation{
		Name:     "BinUpdated",
		Kind:     transport.KindSubscription,
		Document: binUpdatedDocument,
	})
	if err != nil {
		return nil, err
	}
	sub := res.Subscription

	out := make(chan BinUpdate)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				update := BinUpdate{Err: ev.Err}
				if ev.Err == nil {
					var payload binUpdatedPayload
					if err := json.Unmarshal(ev.Data, &payload); err != nil {
						s.logger.Warn("malformed bin update", zap.Error(err))
						continue
					}
					update.Bin = payload.BinUpdated
				}
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
