package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose CDP resource type is listed in types.
func blockResources(page *rod.Page, types []string) (*rod.HijackRouter, error) {
	block := blockSet(types)
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if block[string(h.Request.Type())] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}

// blockSet maps configured names to CDP resource types. Unknown names are
// taken as raw resource types.
func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		switch strings.ToLower(t) {
		case "images", "image":
			set[string(proto.NetworkResourceTypeImage)] = true
		case "fonts", "font":
			set[string(proto.NetworkResourceTypeFont)] = true
		case "media":
			set[string(proto.NetworkResourceTypeMedia)] = true
		case "stylesheets", "stylesheet":
			set[string(proto.NetworkResourceTypeStylesheet)] = true
		default:
			set[t] = true
		}
	}
	return set
}
