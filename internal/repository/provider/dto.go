package provider

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	domprov "github.com/paymesh-io/paymesh/internal/domain/provider"
)

// providerToHash converts a domain Provider to a map for HSET.
func providerToHash(p domprov.Provider) map[string]string {
	return map[string]string{
		"id":            p.ID,
		"name":          p.Name,
		"endpoint":      p.Endpoint,
		"chains":        strings.Join(p.Chains, ","),
		"cost_per_call": strconv.FormatFloat(p.CostPerCall, 'f', -1, 64),
		"reliability":   strconv.FormatFloat(p.Reliability, 'f', -1, 64),
		"last_ping":     strconv.FormatInt(p.LastPing.UnixMilli(), 10),
		"active":        strconv.FormatBool(p.Active),
		"registered_at": strconv.FormatInt(p.RegisteredAt.UnixMilli(), 10),
	}
}

// providerFromHash hydrates a domain Provider from an HGETALL result map.
func providerFromHash(m map[string]string) (domprov.Provider, error) {
	cost, err := strconv.ParseFloat(m["cost_per_call"], 64)
	if err != nil {
		return domprov.Provider{}, fmt.Errorf("invalid cost_per_call: %w", err)
	}
	reliability, err := strconv.ParseFloat(m["reliability"], 64)
	if err != nil {
		return domprov.Provider{}, fmt.Errorf("invalid reliability: %w", err)
	}
	lastPing, err := strconv.ParseInt(m["last_ping"], 10, 64)
	if err != nil {
		return domprov.Provider{}, fmt.Errorf("invalid last_ping: %w", err)
	}
	registeredAt, err := strconv.ParseInt(m["registered_at"], 10, 64)
	if err != nil {
		return domprov.Provider{}, fmt.Errorf("invalid registered_at: %w", err)
	}

	var chains []string
	if m["chains"] != "" {
		chains = strings.Split(m["chains"], ",")
	}

	return domprov.Provider{
		ID:           m["id"],
		Name:         m["name"],
		Endpoint:     m["endpoint"],
		Chains:       chains,
		CostPerCall:  cost,
		Reliability:  reliability,
		LastPing:     time.UnixMilli(lastPing).UTC(),
		Active:       m["active"] == "true",
		RegisteredAt: time.UnixMilli(registeredAt).UTC(),
	}, nil
}
