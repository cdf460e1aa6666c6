// Package source connects an event producer to the publisher. Events arrive
// through the Listener callbacks; Dispatcher routes them through every
// filter block.
package source

import (
	"errors"

	"go.uber.org/zap"

	"heimdall/internal/codec"
	"heimdall/internal/filter"
	"heimdall/internal/metrics"
	"heimdall/internal/model"
)

// Listener receives the three notification kinds a host emits.
type Listener interface {
	// OnAccountChange is called for every account write. isStartup is set
	// while the host replays its snapshot.
	OnAccountChange(ev model.AccountChangeEvent, isStartup bool) error
	OnSlotStatus(ev model.SlotStatusEvent) error
	OnTransaction(ev model.TransactionEvent) error
}

// Publisher is the subset of publisher.Publisher the dispatcher needs.
type Publisher interface {
	PublishAccount(ev model.AccountChangeEvent, wrap bool, topic string) error
	PublishSlot(ev model.SlotStatusEvent, wrap bool, topic string) error
	PublishTransaction(ev model.TransactionEvent, wrap bool, topic string) error
}

// Dispatcher implements Listener. Each filter block is evaluated on its
// own, so one event may be published to several topics.
type Dispatcher struct {
	filters []*filter.Filter
	pub     Publisher
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ Listener = (*Dispatcher)(nil)

func NewDispatcher(filters []*filter.Filter, pub Publisher, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{filters: filters, pub: pub, logger: logger, metrics: m}
}

// OnAccountChange publishes ev for every block whose account topic is set
// and whose account and program lists both accept it. Startup accounts are
// published only by blocks with publish_all_accounts.
func (d *Dispatcher) OnAccountChange(ev model.AccountChangeEvent, isStartup bool) error {
	var errs []error
	for _, f := range d.filters {
		topic := f.AccountTopic()
		if topic == "" {
			continue
		}
		if isStartup && !f.PublishAllAccounts() {
			d.metrics.Filtered(codec.KindAccount.String())
			continue
		}
		if !f.WantsAccount(ev.Pubkey) || !f.WantsProgram(ev.Owner) {
			d.metrics.Filtered(codec.KindAccount.String())
			continue
		}
		if err := d.pub.PublishAccount(ev, f.WrapMessages(), topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnSlotStatus publishes ev to every block with a slot topic.
func (d *Dispatcher) OnSlotStatus(ev model.SlotStatusEvent) error {
	var errs []error
	for _, f := range d.filters {
		topic := f.SlotTopic()
		if topic == "" {
			continue
		}
		if err := d.pub.PublishSlot(ev, f.WrapMessages(), topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnTransaction publishes ev for every block with a transaction topic whose
// vote and failure rules and program lists accept it.
func (d *Dispatcher) OnTransaction(ev model.TransactionEvent) error {
	var errs []error
	for _, f := range d.filters {
		topic := f.TransactionTopic()
		if topic == "" {
			continue
		}
		if !wantsTransaction(f, ev) {
			d.metrics.Filtered(codec.KindTransaction.String())
			continue
		}
		if err := d.pub.PublishTransaction(ev, f.WrapMessages(), topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func wantsTransaction(f *filter.Filter, ev model.TransactionEvent) bool {
	if ev.IsVote && !f.WantsVoteTx() {
		return false
	}
	if !ev.Success && !f.WantsFailedTx() {
		return false
	}
	return f.WantsTransaction(ev.AccountKeys)
}
