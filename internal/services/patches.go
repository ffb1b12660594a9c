package services

import (
	"koi-auction/internal/domain"
	"koi-auction/internal/querycache"
)

func auctionListPatch(id string, fn func(*domain.Auction)) querycache.Patch {
	return querycache.PatchJSON(domain.AllAuctionsKey(), func(list []domain.Auction) []domain.Auction {
		for i := range list {
			if list[i].ID == id {
				fn(&list[i])
			}
		}
		return list
	})
}

func auctionRemovePatch(id string) querycache.Patch {
	return querycache.PatchJSON(domain.AllAuctionsKey(), func(list []domain.Auction) []domain.Auction {
		out := make([]domain.Auction, 0, len(list))
		for _, a := range list {
			if a.ID != id {
				out = append(out, a)
			}
		}
		return out
	})
}

func auctionDetailPatch(id string, fn func(*domain.Auction)) querycache.Patch {
	return querycache.PatchJSON(domain.AuctionKey(id), func(a domain.Auction) domain.Auction {
		fn(&a)
		return a
	})
}

func koiListPatch(id string, fn func(*domain.Koi)) querycache.Patch {
	return querycache.PatchJSON(domain.KoiDataKey(), func(list []domain.Koi) []domain.Koi {
		for i := range list {
			if list[i].ID == id {
				fn(&list[i])
			}
		}
		return list
	})
}

func koiDetailPatch(id string, fn func(*domain.Koi)) querycache.Patch {
	return querycache.PatchJSON(domain.KoiKey(id), func(k domain.Koi) domain.Koi {
		fn(&k)
		return k
	})
}

func setAuctionStatus(status domain.AuctionStatus) func(*domain.Auction) {
	return func(a *domain.Auction) { a.Status = status }
}

func setKoiStatus(status domain.KoiStatus) func(*domain.Koi) {
	return func(k *domain.Koi) { k.Status = status }
}
