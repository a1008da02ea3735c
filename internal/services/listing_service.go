package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/planvault/api/internal/repositories"
)

var (
	// ErrListingInvalidInput indicates the caller supplied invalid parameters.
	ErrListingInvalidInput = errors.New("listing: invalid input")
	// ErrListingNotFound indicates the listing does not exist or is not public.
	ErrListingNotFound = errors.New("listing: not found")
	// ErrListingUnavailable indicates a dependency failure.
	ErrListingUnavailable = errors.New("listing: unavailable")
)

// ListingServiceDeps wires the collaborators of the public catalog read side.
type ListingServiceDeps struct {
	Listings repositories.ListingRepository
}

type listingService struct {
	listings  repositories.ListingRepository
	sanitizer *bluemonday.Policy
}

// NewListingService constructs a ListingService validating required dependencies.
func NewListingService(deps ListingServiceDeps) (ListingService, error) {
	if deps.Listings == nil {
		return nil, errors.New("listing service: listing repository is required")
	}
	return &listingService{
		listings:  deps.Listings,
		sanitizer: bluemonday.UGCPolicy(),
	}, nil
}

// GetListing returns one publicly visible listing. Draft, unlisted, and
// removed listings read as not found so the public surface leaks nothing
// about their existence. Creator-supplied description HTML is sanitized on
// the way out; the write pipeline stores it as submitted.
func (s *listingService) GetListing(ctx context.Context, listingID string) (Listing, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return Listing{}, fmt.Errorf("%w: listing id is required", ErrListingInvalidInput)
	}

	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		if isNotFound(err) {
			return Listing{}, fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
		}
		return Listing{}, fmt.Errorf("%w: %v", ErrListingUnavailable, err)
	}
	if !listing.Purchasable() {
		return Listing{}, fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
	}

	listing.DescriptionHTML = s.sanitizer.Sanitize(listing.DescriptionHTML)
	listing.ObjectPath = ""
	return listing, nil
}
