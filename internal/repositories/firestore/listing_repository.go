package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/planvault/api/internal/domain"
	pfirestore "github.com/planvault/api/internal/platform/firestore"
)

const listingsCollection = "listings"

// ListingRepository reads listing documents and their royalty configuration.
// The order engine never writes to this collection; the upload pipeline owns it.
type ListingRepository struct {
	base *pfirestore.BaseRepository[listingDocument]
}

// NewListingRepository constructs a Firestore-backed listing repository.
func NewListingRepository(provider *pfirestore.Provider) (*ListingRepository, error) {
	if provider == nil {
		return nil, errors.New("listing repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[listingDocument](provider, listingsCollection, nil, nil)
	return &ListingRepository{base: base}, nil
}

// FindByID fetches a single listing.
func (r *ListingRepository) FindByID(ctx context.Context, listingID string) (domain.Listing, error) {
	if r == nil || r.base == nil {
		return domain.Listing{}, errors.New("listing repository not initialised")
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return domain.Listing{}, errors.New("listing repository: listing id is required")
	}
	doc, err := r.base.Get(ctx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	return decodeListingDocument(listingID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// GetRoyaltySplit returns the listing's royalty split rows in audit order.
func (r *ListingRepository) GetRoyaltySplit(ctx context.Context, listingID string) (domain.RoyaltySplit, error) {
	if r == nil || r.base == nil {
		return domain.RoyaltySplit{}, errors.New("listing repository not initialised")
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return domain.RoyaltySplit{}, errors.New("listing repository: listing id is required")
	}
	doc, err := r.base.Get(ctx, listingID)
	if err != nil {
		return domain.RoyaltySplit{}, err
	}
	return decodeRoyaltySplit(listingID, doc.Data), nil
}

type listingDocument struct {
	CreatorID       string                 `firestore:"creatorId"`
	Title           string                 `firestore:"title"`
	DescriptionHTML string                 `firestore:"descriptionHtml"`
	Formats         []string               `firestore:"formats"`
	BasePriceMinor  int64                  `firestore:"basePriceMinor"`
	Currency        string                 `firestore:"currency"`
	Stage           string                 `firestore:"stage"`
	ObjectPath      string                 `firestore:"objectPath"`
	PreviewPath     string                 `firestore:"previewPath"`
	ValidationOK    bool                   `firestore:"validationOk"`
	RoyaltySplit    []splitRowDocument     `firestore:"royaltySplit"`
	SplitUpdatedAt  time.Time              `firestore:"splitUpdatedAt"`
	Metadata        map[string]interface{} `firestore:"metadata"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

type splitRowDocument struct {
	ParticipantID    string `firestore:"participantId"`
	ShareBasisPoints int64  `firestore:"shareBasisPoints"`
	Position         int    `firestore:"position"`
}

func decodeListingDocument(id string, doc listingDocument, createTime, updateTime time.Time) domain.Listing {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = createTime
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = updateTime
	}
	return domain.Listing{
		ID:              id,
		CreatorID:       doc.CreatorID,
		Title:           doc.Title,
		DescriptionHTML: doc.DescriptionHTML,
		Formats:         append([]string(nil), doc.Formats...),
		BasePriceMinor:  doc.BasePriceMinor,
		Currency:        doc.Currency,
		Stage:           domain.ListingStage(doc.Stage),
		ObjectPath:      doc.ObjectPath,
		PreviewPath:     doc.PreviewPath,
		ValidationOK:    doc.ValidationOK,
		CreatedAt:       createdAt.UTC(),
		UpdatedAt:       updatedAt.UTC(),
	}
}

func decodeRoyaltySplit(listingID string, doc listingDocument) domain.RoyaltySplit {
	participants := make([]domain.SplitParticipant, 0, len(doc.RoyaltySplit))
	for _, row := range doc.RoyaltySplit {
		participants = append(participants, domain.SplitParticipant{
			ParticipantID:    row.ParticipantID,
			ShareBasisPoints: row.ShareBasisPoints,
			Position:         row.Position,
		})
	}
	return domain.RoyaltySplit{
		ListingID:    listingID,
		Participants: participants,
		UpdatedAt:    doc.SplitUpdatedAt.UTC(),
	}
}
