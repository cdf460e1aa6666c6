// Package filter decides which source events are published and where.
package filter

import (
	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"heimdall/internal/config"
)

type keySet map[solana.PublicKey]struct{}

// Filter is immutable after New and safe for concurrent use.
type Filter struct {
	programIgnores keySet
	programFilters keySet
	accountIgnores keySet
	accountFilters keySet

	includeVote   bool
	includeFailed bool
	publishAll    bool
	wrap          bool

	accountTopic     string
	slotTopic        string
	transactionTopic string
}

// New builds a Filter from cfg. Keys that are not valid base58 public keys
// are logged and left out.
func New(cfg config.FilterConfig, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		programIgnores:   parseKeys(cfg.ProgramIgnores, "program_ignores", logger),
		programFilters:   parseKeys(cfg.ProgramFilters, "program_filters", logger),
		accountIgnores:   parseKeys(cfg.AccountIgnores, "account_ignores", logger),
		accountFilters:   parseKeys(cfg.AccountFilters, "account_filters", logger),
		includeVote:      cfg.IncludeVoteTransactions,
		includeFailed:    cfg.IncludeFailedTransactions,
		publishAll:       cfg.PublishAllAccounts,
		wrap:             cfg.WrapMessages,
		accountTopic:     cfg.UpdateAccountTopic,
		slotTopic:        cfg.SlotStatusTopic,
		transactionTopic: cfg.TransactionTopic,
	}
}

func parseKeys(raw []string, field string, logger *zap.Logger) keySet {
	set := make(keySet, len(raw))
	for _, s := range raw {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			logger.Warn("skip invalid key", zap.String("field", field), zap.String("key", s), zap.Error(err))
			continue
		}
		set[key] = struct{}{}
	}
	return set
}

func toKey(id []byte) (solana.PublicKey, bool) {
	var key solana.PublicKey
	if len(id) != len(key) {
		return key, false
	}
	copy(key[:], id)
	return key, true
}

func wants(id []byte, ignores, filters keySet) bool {
	key, ok := toKey(id)
	if !ok {
		return false
	}
	if _, ignored := ignores[key]; ignored {
		return false
	}
	if len(filters) == 0 {
		return true
	}
	_, allowed := filters[key]
	return allowed
}

// WantsProgram reports whether events owned by program id pass the filter.
// Ids that are not 32 bytes never pass.
func (f *Filter) WantsProgram(id []byte) bool {
	return wants(id, f.programIgnores, f.programFilters)
}

// WantsAccount reports whether updates to account id pass the filter.
// Ids that are not 32 bytes never pass.
func (f *Filter) WantsAccount(id []byte) bool {
	return wants(id, f.accountIgnores, f.accountFilters)
}

// WantsTransaction reports whether a transaction touching keys passes the
// program lists. Any ignored program rejects it; a non-empty allow-list
// needs at least one match. Keys that are not 32 bytes are skipped.
func (f *Filter) WantsTransaction(keys [][]byte) bool {
	if len(keys) == 0 {
		return true
	}
	matched := len(f.programFilters) == 0
	for _, id := range keys {
		key, ok := toKey(id)
		if !ok {
			continue
		}
		if _, ignored := f.programIgnores[key]; ignored {
			return false
		}
		if !matched {
			_, matched = f.programFilters[key]
		}
	}
	return matched
}

func (f *Filter) WantsVoteTx() bool {
	return f.includeVote
}

func (f *Filter) WantsFailedTx() bool {
	return f.includeFailed
}

// PublishAllAccounts reports whether accounts seen during startup are published.
func (f *Filter) PublishAllAccounts() bool {
	return f.publishAll
}

func (f *Filter) WrapMessages() bool {
	return f.wrap
}

func (f *Filter) AccountTopic() string {
	return f.accountTopic
}

func (f *Filter) SlotTopic() string {
	return f.slotTopic
}

func (f *Filter) TransactionTopic() string {
	return f.transactionTopic
}
