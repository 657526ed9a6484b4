package crm

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nexus-fundraising/nexus/domain/records"
)

//go:embed mappings.yaml
var mappingsYAML []byte

type lookupTables struct {
	PaymentMethods map[string]map[string]string `yaml:"payment_methods"`
	Channels       map[string]map[string]string `yaml:"channels"`
	RemoteChannels map[string]map[string]string `yaml:"remote_channels"`
}

var canonicalPaymentMethods = map[string]bool{
	records.PaymentCreditCard:   true,
	records.PaymentBankTransfer: true,
	records.PaymentCheck:        true,
	records.PaymentCash:         true,
	records.PaymentPayPal:       true,
	records.PaymentStock:        true,
	records.PaymentOther:        true,
}

var canonicalChannels = map[string]bool{
	records.ChannelEmail:   true,
	records.ChannelPhone:   true,
	records.ChannelMeeting: true,
	records.ChannelEvent:   true,
	records.ChannelLetter:  true,
	records.ChannelNote:    true,
	records.ChannelOther:   true,
}

var loadTables = sync.OnceValues(func() (*lookupTables, error) {
	return parseLookupTables(mappingsYAML)
})

func parseLookupTables(data []byte) (*lookupTables, error) {
	var t lookupTables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse mapping tables: %w", err)
	}
	for _, section := range []map[string]map[string]string{t.PaymentMethods, t.Channels, t.RemoteChannels} {
		for provider, table := range section {
			normalized := make(map[string]string, len(table))
			for k, v := range table {
				normalized[normalize(k)] = v
			}
			section[provider] = normalized
		}
	}
	return &t, nil
}

func tables() *lookupTables {
	t, err := loadTables()
	if err != nil {
		panic(err)
	}
	return t
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func lookup(section map[string]map[string]string, provider records.Source, raw string, canonical map[string]bool, fallback string) string {
	key := normalize(raw)
	if v, ok := section[string(provider)][key]; ok {
		return v
	}
	if canonical[key] {
		return key
	}
	return fallback
}

// LookupPaymentMethod maps a provider payment method to its canonical
// value, falling back to "other".
func LookupPaymentMethod(provider records.Source, raw string) string {
	return lookup(tables().PaymentMethods, provider, raw, canonicalPaymentMethods, records.PaymentOther)
}

// LookupChannel maps a provider activity type to its canonical channel,
// falling back to "other".
func LookupChannel(provider records.Source, raw string) string {
	return lookup(tables().Channels, provider, raw, canonicalChannels, records.ChannelOther)
}

// RemoteChannel maps a canonical channel to the provider's activity type.
// Unknown channels use the provider's "other" entry.
func RemoteChannel(provider records.Source, channel string) string {
	table := tables().RemoteChannels[string(provider)]
	if v, ok := table[normalize(channel)]; ok {
		return v
	}
	return table[records.ChannelOther]
}

// SplitName splits a full name on the first space.
func SplitName(full string) (first, rest string) {
	full = strings.TrimSpace(full)
	first, rest, _ = strings.Cut(full, " ")
	return first, strings.TrimSpace(rest)
}

// JoinName is the inverse of SplitName for providers that only store parts.
func JoinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// ComposeAddress joins the non-blank address parts with ", ".
func ComposeAddress(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
