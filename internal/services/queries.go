package services

import (
	"context"
	"fmt"

	"koi-auction/internal/domain"
	"koi-auction/internal/querycache"
)

// RegisterFetchers wires every query root the dashboard reads to the remote API.
func RegisterFetchers(cache *querycache.Client, auctions domain.AuctionAPI, koi domain.KoiAPI) {
	cache.Register(domain.AllAuctionsKey().Root(), func(ctx context.Context, _ domain.QueryKey) ([]byte, error) {
		list, err := auctions.ListAuctions(ctx)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []domain.Auction{}
		}
		return querycache.Encode(list)
	})

	cache.Register(domain.KoiDataKey().Root(), func(ctx context.Context, _ domain.QueryKey) ([]byte, error) {
		list, err := koi.ListKoi(ctx)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []domain.Koi{}
		}
		return querycache.Encode(list)
	})

	cache.Register(domain.AuctionKey("").Root(), func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		id, err := entityID(key)
		if err != nil {
			return nil, err
		}
		a, err := auctions.GetAuction(ctx, id)
		if err != nil {
			return nil, err
		}
		return querycache.Encode(a)
	})

	cache.Register(domain.KoiKey("").Root(), func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		id, err := entityID(key)
		if err != nil {
			return nil, err
		}
		k, err := koi.GetKoi(ctx, id)
		if err != nil {
			return nil, err
		}
		return querycache.Encode(k)
	})
}

func entityID(key domain.QueryKey) (string, error) {
	if len(key) != 2 || key[1] == "" {
		return "", fmt.Errorf("query %q needs an entity id: %w", key.String(), domain.ErrInvalidArgument)
	}
	return key[1], nil
}
