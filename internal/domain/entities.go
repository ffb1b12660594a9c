package domain

import (
	"time"
)

type AuctionStatus string

const (
	AuctionDraft     AuctionStatus = "DRAFT"
	AuctionPending   AuctionStatus = "PENDING"
	AuctionPublished AuctionStatus = "PUBLISHED"
	AuctionStarted   AuctionStatus = "STARTED"
	AuctionCompleted AuctionStatus = "COMPLETED"
	AuctionCancelled AuctionStatus = "CANCELLED"
	AuctionExpired   AuctionStatus = "EXPIRED"
	AuctionFailed    AuctionStatus = "FAILED"
	AuctionDeleted   AuctionStatus = "DELETED"
)

func (s AuctionStatus) String() string {
	return string(s)
}

func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionDraft, AuctionPending, AuctionPublished, AuctionStarted, AuctionCompleted,
		AuctionCancelled, AuctionExpired, AuctionFailed, AuctionDeleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (s AuctionStatus) IsTerminal() bool {
	switch s {
	case AuctionCompleted, AuctionCancelled, AuctionExpired, AuctionFailed, AuctionDeleted:
		return true
	default:
		return false
	}
}

func (s AuctionStatus) CanCancel() bool {
	return s == AuctionPending || s == AuctionPublished || s == AuctionStarted
}

func (s AuctionStatus) CanPublish() bool {
	return s == AuctionDraft
}

func (s AuctionStatus) CanDelete() bool {
	switch s {
	case AuctionDraft, AuctionPending, AuctionCancelled, AuctionExpired, AuctionFailed:
		return true
	default:
		return false
	}
}

type KoiStatus string

const (
	KoiAvailable   KoiStatus = "AVAILABLE"
	KoiAuction     KoiStatus = "AUCTION"
	KoiInAuction   KoiStatus = "IN_AUCTION"
	KoiSold        KoiStatus = "SOLD"
	KoiUnavailable KoiStatus = "UNAVAILABLE"
)

func (s KoiStatus) String() string {
	return string(s)
}

func (s KoiStatus) Valid() bool {
	switch s {
	case KoiAvailable, KoiAuction, KoiInAuction, KoiSold, KoiUnavailable:
		return true
	default:
		return false
	}
}

// Auction is the gateway's cached copy of a remote auction. The remote API owns it.
type Auction struct {
	ID               string        `json:"auction_id"`
	KoiID            string        `json:"koi_id"`
	Status           AuctionStatus `json:"status"`
	BuyNowPrice      float64       `json:"buynow_price"`
	BidIncrement     float64       `json:"bid_increment"`
	ParticipationFee float64       `json:"participation_fee"`
	StartingBid      float64       `json:"starting_bid"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	WinnerID         string        `json:"winner_id,omitempty"`
	WinnerVerified   bool          `json:"winner_verified"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// AuctionUpdate is the full payload the remote API expects on every auction update.
// Monetary and time-window fields must be resupplied even when only the status changes.
type AuctionUpdate struct {
	Status           AuctionStatus `json:"status"`
	BuyNowPrice      float64       `json:"buynow_price"`
	BidIncrement     float64       `json:"bid_increment"`
	ParticipationFee float64       `json:"participation_fee"`
	StartingBid      float64       `json:"starting_bid"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
}

// UpdateFor builds an update that changes only the status, carrying the side-car fields over.
func (a *Auction) UpdateFor(status AuctionStatus) AuctionUpdate {
	return AuctionUpdate{
		Status:           status,
		BuyNowPrice:      a.BuyNowPrice,
		BidIncrement:     a.BidIncrement,
		ParticipationFee: a.ParticipationFee,
		StartingBid:      a.StartingBid,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
	}
}

type Koi struct {
	ID        string    `json:"koi_id"`
	Name      string    `json:"name"`
	Variety   string    `json:"variety"`
	Status    KoiStatus `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
	ToastWarning ToastLevel = "warning"
)

// Toast is a fire-and-forget notification for a dashboard user.
type Toast struct {
	Level      ToastLevel `json:"level"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	MutationID string     `json:"mutation_id,omitempty"`
	At         time.Time  `json:"at"`
}

// RemoteEvent is a message pushed by the remote API's WebSocket channel.
type RemoteEvent struct {
	Type      RemoteEventType `json:"type"`
	AuctionID string          `json:"auction_id,omitempty"`
	KoiID     string          `json:"koi_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type RemoteEventType string

const (
	EventAuctionUpdated RemoteEventType = "AUCTION_UPDATED"
	EventAuctionDeleted RemoteEventType = "AUCTION_DELETED"
	EventBidPlaced      RemoteEventType = "BID_PLACED"
	EventKoiUpdated     RemoteEventType = "KOI_UPDATED"
	EventNotification   RemoteEventType = "NOTIFICATION"
)

// CompensationAlert is raised when a saga could not undo a completed step.
type CompensationAlert struct {
	SagaID    string            `json:"saga_id"`
	Saga      string            `json:"saga"`
	Step      string            `json:"step"`
	Cause     string            `json:"cause"`
	Error     string            `json:"error"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Abandoned bool              `json:"abandoned"`
	Timestamp time.Time         `json:"timestamp"`
}
