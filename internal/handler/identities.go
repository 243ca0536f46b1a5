package handler

import (
	"context"
	"net/http"

	"github.com/web3-frozen/staking-offers/internal/offers"
)

func ListCoins(rd Reader) http.HandlerFunc {
	return listIdentities(rd.ListCoins)
}

func ListPools(rd Reader) http.HandlerFunc {
	return listIdentities(rd.ListPools)
}

func ListChains(rd Reader) http.HandlerFunc {
	return listIdentities(rd.ListChains)
}

func listIdentities[T any](list func(ctx context.Context, page, pageSize int) (offers.Page[T], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := queryParser{values: r.URL.Query()}
		page, pageSize := p.paging()
		if p.err != nil {
			writeError(w, p.err)
			return
		}
		out, err := list(r.Context(), page, pageSize)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
