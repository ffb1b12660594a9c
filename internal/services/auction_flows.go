package services

import (
	"context"
	"encoding/json"
	"fmt"

	"koi-auction/internal/domain"
	"koi-auction/internal/lock"
	"koi-auction/internal/querycache"
	"koi-auction/internal/saga"
	"koi-auction/pkg/logger"
)

const (
	FlowCancelAuction   = "cancel_auction"
	FlowDeleteAuction   = "delete_auction"
	FlowPublishAuction  = "publish_auction"
	FlowUpdateKoiStatus = "update_koi_status"
	FlowVerifyWinner    = "verify_winner"

	ActionKoiStatus = "koi_status"

	stepKoi     = "koi"
	stepAuction = "auction"
)

type koiStatusPayload struct {
	KoiID  string           `json:"koi_id"`
	Status domain.KoiStatus `json:"status"`
}

// AuctionFlows are the admin mutations on auctions and their koi.
type AuctionFlows struct {
	runner   *MutationRunner
	cache    *querycache.Client
	auctions domain.AuctionAPI
	koi      domain.KoiAPI
	log      logger.Logger
}

// NewAuctionFlows also registers the replayable compensations the flows use, so
// that the repair job can run them from a persisted saga log.
func NewAuctionFlows(runner *MutationRunner, cache *querycache.Client, sagas *saga.Runner,
	auctions domain.AuctionAPI, koi domain.KoiAPI, log logger.Logger) *AuctionFlows {
	sagas.Handle(ActionKoiStatus, func(ctx context.Context, payload json.RawMessage) error {
		var p koiStatusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode koi status action: %w", err)
		}
		_, err := koi.UpdateKoiStatus(ctx, p.KoiID, p.Status)
		return err
	})

	return &AuctionFlows{
		runner:   runner,
		cache:    cache,
		auctions: auctions,
		koi:      koi,
		log:      log,
	}
}

// CancelAuction returns the koi to AUCTION, then cancels the auction. A failed
// cancel restores the koi's previous status.
func (f *AuctionFlows) CancelAuction(ctx context.Context, actor, auctionID string) (*Result, error) {
	return f.runner.Execute(ctx, Mutation{
		Name:     FlowCancelAuction,
		Actor:    actor,
		LockKeys: []string{lock.AuctionKey(auctionID)},
		Prepare: func(ctx context.Context, m *Mutation, lockMore LockFunc) error {
			auction, err := f.loadAuction(ctx, auctionID)
			if err != nil {
				return err
			}
			if !auction.Status.CanCancel() {
				return &domain.TransitionError{Action: "cancel", Entity: "auction", Status: auction.Status.String()}
			}

			m.Patches = []querycache.Patch{
				auctionListPatch(auctionID, setAuctionStatus(domain.AuctionCancelled)),
				auctionDetailPatch(auctionID, setAuctionStatus(domain.AuctionCancelled)),
			}
			if err := f.handOffKoi(ctx, m, auction, lockMore); err != nil {
				return err
			}

			update := auction.UpdateFor(domain.AuctionCancelled)
			m.Steps = append(m.Steps, saga.Step{
				Name: stepAuction,
				Forward: func(ctx context.Context) error {
					_, err := f.auctions.UpdateAuction(ctx, auctionID, update)
					return err
				},
			})
			return nil
		},
		Invalidate:     []domain.QueryKey{domain.AllAuctionsKey(), domain.KoiDataKey(), domain.AuctionKey(auctionID)},
		Metadata:       map[string]string{"auction_id": auctionID},
		SuccessMessage: "Auction cancelled",
		ErrorFallback:  "Failed to cancel auction",
	})
}

// DeleteAuction returns the koi to AUCTION, then deletes the auction.
func (f *AuctionFlows) DeleteAuction(ctx context.Context, actor, auctionID string) (*Result, error) {
	return f.runner.Execute(ctx, Mutation{
		Name:     FlowDeleteAuction,
		Actor:    actor,
		LockKeys: []string{lock.AuctionKey(auctionID)},
		Prepare: func(ctx context.Context, m *Mutation, lockMore LockFunc) error {
			auction, err := f.loadAuction(ctx, auctionID)
			if err != nil {
				return err
			}
			if !auction.Status.CanDelete() {
				return &domain.TransitionError{Action: "delete", Entity: "auction", Status: auction.Status.String()}
			}

			m.Patches = []querycache.Patch{
				auctionRemovePatch(auctionID),
				auctionDetailPatch(auctionID, setAuctionStatus(domain.AuctionDeleted)),
			}
			if err := f.handOffKoi(ctx, m, auction, lockMore); err != nil {
				return err
			}

			m.Steps = append(m.Steps, saga.Step{
				Name: stepAuction,
				Forward: func(ctx context.Context) error {
					return f.auctions.DeleteAuction(ctx, auctionID)
				},
			})
			return nil
		},
		Invalidate:     []domain.QueryKey{domain.AllAuctionsKey(), domain.KoiDataKey(), domain.AuctionKey(auctionID)},
		Metadata:       map[string]string{"auction_id": auctionID},
		SuccessMessage: "Auction deleted",
		ErrorFallback:  "Failed to delete auction",
	})
}

func (f *AuctionFlows) PublishAuction(ctx context.Context, actor, auctionID string) (*Result, error) {
	return f.runner.Execute(ctx, Mutation{
		Name:     FlowPublishAuction,
		Actor:    actor,
		LockKeys: []string{lock.AuctionKey(auctionID)},
		Prepare: func(ctx context.Context, m *Mutation, _ LockFunc) error {
			auction, err := f.loadAuction(ctx, auctionID)
			if err != nil {
				return err
			}
			if !auction.Status.CanPublish() {
				return &domain.TransitionError{Action: "publish", Entity: "auction", Status: auction.Status.String()}
			}

			update := auction.UpdateFor(domain.AuctionPublished)
			m.Patches = []querycache.Patch{
				auctionListPatch(auctionID, setAuctionStatus(domain.AuctionPublished)),
				auctionDetailPatch(auctionID, setAuctionStatus(domain.AuctionPublished)),
			}
			m.Steps = []saga.Step{{
				Name: stepAuction,
				Forward: func(ctx context.Context) error {
					_, err := f.auctions.UpdateAuction(ctx, auctionID, update)
					return err
				},
			}}
			return nil
		},
		Invalidate:     []domain.QueryKey{domain.AllAuctionsKey(), domain.AuctionKey(auctionID)},
		Metadata:       map[string]string{"auction_id": auctionID},
		SuccessMessage: "Auction published",
		ErrorFallback:  "Failed to publish auction",
	})
}

func (f *AuctionFlows) UpdateKoiStatus(ctx context.Context, actor, koiID string, status domain.KoiStatus) (*Result, error) {
	const fallback = "Failed to update koi status"

	if !status.Valid() {
		err := &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown koi status %q", status)}
		return f.runner.Reject(ctx, FlowUpdateKoiStatus, actor, err, fallback), err
	}

	return f.runner.Execute(ctx, Mutation{
		Name:     FlowUpdateKoiStatus,
		Actor:    actor,
		LockKeys: []string{lock.KoiKey(koiID)},
		Patches: []querycache.Patch{
			koiListPatch(koiID, setKoiStatus(status)),
			koiDetailPatch(koiID, setKoiStatus(status)),
		},
		Steps: []saga.Step{{
			Name: stepKoi,
			Forward: func(ctx context.Context) error {
				_, err := f.koi.UpdateKoiStatus(ctx, koiID, status)
				return err
			},
		}},
		Invalidate:     []domain.QueryKey{domain.KoiDataKey(), domain.KoiKey(koiID)},
		Metadata:       map[string]string{"koi_id": koiID, "status": string(status)},
		SuccessMessage: "Koi status updated",
		ErrorFallback:  fallback,
	})
}

// VerifyWinner confirms the winner of a completed auction.
func (f *AuctionFlows) VerifyWinner(ctx context.Context, actor, auctionID string) (*Result, error) {
	verified := func(a *domain.Auction) { a.WinnerVerified = true }
	return f.runner.Execute(ctx, Mutation{
		Name:     FlowVerifyWinner,
		Actor:    actor,
		LockKeys: []string{lock.AuctionKey(auctionID)},
		Prepare: func(ctx context.Context, m *Mutation, _ LockFunc) error {
			auction, err := f.loadAuction(ctx, auctionID)
			if err != nil {
				return err
			}
			if auction.Status != domain.AuctionCompleted || auction.WinnerID == "" || auction.WinnerVerified {
				return &domain.TransitionError{Action: "verify the winner of", Entity: "auction", Status: auction.Status.String()}
			}

			m.Metadata["winner_id"] = auction.WinnerID
			m.Patches = []querycache.Patch{
				auctionListPatch(auctionID, verified),
				auctionDetailPatch(auctionID, verified),
			}
			m.Steps = []saga.Step{{
				Name: stepAuction,
				Forward: func(ctx context.Context) error {
					_, err := f.auctions.VerifyWinner(ctx, auctionID)
					return err
				},
			}}
			return nil
		},
		Invalidate:     []domain.QueryKey{domain.AllAuctionsKey(), domain.AuctionKey(auctionID)},
		Metadata:       map[string]string{"auction_id": auctionID},
		SuccessMessage: "Winner verified",
		ErrorFallback:  "Failed to verify winner",
	})
}

// handOffKoi locks the auction's koi, reads its status under that lock and adds
// the step returning it to AUCTION. Auctions without a koi are left alone.
func (f *AuctionFlows) handOffKoi(ctx context.Context, m *Mutation, auction *domain.Auction, lockMore LockFunc) error {
	if auction.KoiID == "" {
		return nil
	}
	if err := lockMore(ctx, lock.KoiKey(auction.KoiID)); err != nil {
		return err
	}

	data, err := f.cache.Query(ctx, domain.KoiKey(auction.KoiID))
	if err != nil {
		return err
	}
	koi, err := querycache.Decode[domain.Koi](data)
	if err != nil {
		return err
	}

	step, err := f.koiStep(&koi, domain.KoiAuction)
	if err != nil {
		return err
	}
	f.bindKoi(m, &koi, domain.KoiAuction)
	m.Steps = append(m.Steps, step)
	return nil
}

// koiStep moves koi to status and records its current status as the undo.
func (f *AuctionFlows) koiStep(koi *domain.Koi, status domain.KoiStatus) (saga.Step, error) {
	undo, err := saga.NewAction(ActionKoiStatus, koiStatusPayload{KoiID: koi.ID, Status: koi.Status})
	if err != nil {
		return saga.Step{}, err
	}
	koiID := koi.ID
	return saga.Step{
		Name: stepKoi,
		Forward: func(ctx context.Context) error {
			_, err := f.koi.UpdateKoiStatus(ctx, koiID, status)
			return err
		},
		Compensation: undo,
	}, nil
}

func (f *AuctionFlows) bindKoi(m *Mutation, koi *domain.Koi, status domain.KoiStatus) {
	m.Patches = append(m.Patches,
		koiListPatch(koi.ID, setKoiStatus(status)),
		koiDetailPatch(koi.ID, setKoiStatus(status)),
	)
	m.Invalidate = append(m.Invalidate, domain.KoiKey(koi.ID))
	m.Metadata["koi_id"] = koi.ID
}

func (f *AuctionFlows) loadAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	data, err := f.cache.Query(ctx, domain.AuctionKey(auctionID))
	if err != nil {
		return nil, err
	}
	auction, err := querycache.Decode[domain.Auction](data)
	if err != nil {
		return nil, err
	}
	return &auction, nil
}
