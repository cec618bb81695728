// Package requisition tracks one consent record per institution and decides
// when the user has to go through the consent flow again.
package requisition

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ledgerline/bankfeed/internal/activitylog"
	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/id"
	"github.com/ledgerline/bankfeed/internal/model"
)

const component = "requisition"

// Validity is the outcome of Validate.
type Validity int

const (
	Invalid Validity = iota
	Usable
)

func (v Validity) String() string {
	if v == Usable {
		return "usable"
	}
	return "invalid"
}

// Store persists institution to requisition id mappings.
type Store interface {
	Requisitions() (map[string]string, error)
	Save(fields map[string]string) error
	Delete(keys ...string) error
}

// Remote is the part of the aggregator API the cache needs.
// *aggregator.Client implements it.
type Remote interface {
	GetRequisition(ctx context.Context, id string) (model.Requisition, error)
	InitiateConsent(ctx context.Context, req model.ConsentRequest) (model.ConsentSession, error)
}

// Prompter surfaces a consent link to the user and blocks until the user
// reports the browser flow is done. It returns an error when the user aborts.
type Prompter interface {
	AwaitConsent(ctx context.Context, session model.ConsentSession) error
}

// ConsentOptions parameterize new consent sessions.
type ConsentOptions struct {
	RedirectURL        string
	UserLanguage       string
	MaxHistoricalDays  int
	AccessValidForDays int
}

// Cache is the per-institution requisition cache.
type Cache struct {
	store    Store
	prompter Prompter
	consent  ConsentOptions
	logger   *zap.Logger
	recorder *activitylog.Recorder
	newRef   func() string
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithRecorder records consent and eviction events in the activity log.
func WithRecorder(r *activitylog.Recorder) Option {
	return func(c *Cache) { c.recorder = r }
}

// New creates a Cache. prompter may be nil for non-interactive use, in which
// case CreateAndAwaitConsent fails with ConsentIncomplete.
func New(store Store, prompter Prompter, consent ConsentOptions, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		prompter: prompter,
		consent:  consent,
		logger:   zap.NewNop(),
		newRef:   id.NewReference,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the cached record for institutionID without contacting the
// API. Only InstitutionID and ID are known at this point.
func (c *Cache) Lookup(institutionID string) (model.Requisition, bool, error) {
	reqs, err := c.store.Requisitions()
	if err != nil {
		return model.Requisition{}, false, fmt.Errorf("reading requisitions: %w", err)
	}
	reqID, ok := reqs[institutionID]
	if !ok {
		return model.Requisition{}, false, nil
	}
	return model.Requisition{
		InstitutionID: institutionID,
		ID:            reqID,
		Status:        model.RequisitionUnknown,
	}, true, nil
}

// Connected returns the institution ids with a cached requisition, sorted.
func (c *Cache) Connected() ([]string, error) {
	reqs, err := c.store.Requisitions()
	if err != nil {
		return nil, fmt.Errorf("reading requisitions: %w", err)
	}
	ids := make([]string, 0, len(reqs))
	for inst := range reqs {
		ids = append(ids, inst)
	}
	sort.Strings(ids)
	return ids, nil
}

// Validate asks the API for the current state of rec. Any status other than
// linked with accounts, and any lookup failure, is Invalid. The error is
// non-nil only for failures that say nothing about the requisition itself:
// a rejected access token or a canceled context.
func (c *Cache) Validate(ctx context.Context, remote Remote, rec model.Requisition) (model.Requisition, Validity, error) {
	cur, err := remote.GetRequisition(ctx, rec.ID)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, apperr.AuthExpired) {
			return rec, Invalid, fmt.Errorf("validating requisition for %s: %w", rec.InstitutionID, err)
		}
		c.logger.Info("requisition lookup failed",
			zap.String("institution", rec.InstitutionID),
			zap.String("requisition", rec.ID),
			zap.Error(err))
		rec.Status = model.RequisitionUnknown
		return rec, Invalid, nil
	}

	cur.InstitutionID = rec.InstitutionID
	if cur.ID == "" {
		cur.ID = rec.ID
	}
	if !cur.Usable() {
		c.logger.Info("requisition not usable",
			zap.String("institution", rec.InstitutionID),
			zap.String("status", string(cur.Status)),
			zap.Int("accounts", len(cur.AccountIDs)))
		return cur, Invalid, nil
	}
	return cur, Usable, nil
}

// Evict clears the cached record for institutionID.
func (c *Cache) Evict(institutionID, reason string) error {
	if err := c.store.Delete(id.RequisitionKey(institutionID)); err != nil {
		return fmt.Errorf("evicting requisition for %s: %w", institutionID, err)
	}
	c.logger.Info("requisition evicted", zap.String("institution", institutionID), zap.String("reason", reason))
	c.recorder.Record(component, "evict", institutionID, reason)
	return nil
}

// Resolve returns the cached requisition for institutionID if it is still
// usable. A stale record is evicted. It never starts a consent flow.
func (c *Cache) Resolve(ctx context.Context, remote Remote, institutionID string) (model.Requisition, bool, error) {
	rec, ok, err := c.Lookup(institutionID)
	if err != nil || !ok {
		return model.Requisition{}, false, err
	}
	cur, v, err := c.Validate(ctx, remote, rec)
	if err != nil {
		return model.Requisition{}, false, err
	}
	if v == Usable {
		return cur, true, nil
	}
	if err := c.Evict(institutionID, "status "+string(cur.Status)); err != nil {
		return model.Requisition{}, false, err
	}
	return model.Requisition{}, false, nil
}

// Runner runs fn with an authenticated handle. It may recover a rejected
// token and run fn once more.
type Runner func(ctx context.Context, fn func(Remote) error) error

// Direct returns a Runner that always uses remote.
func Direct(remote Remote) Runner {
	return func(_ context.Context, fn func(Remote) error) error { return fn(remote) }
}

// Ensure returns a usable requisition for institutionID, running the consent
// flow when there is no cached record or the cached one went stale.
func (c *Cache) Ensure(ctx context.Context, remote Remote, institutionID string) (model.Requisition, error) {
	return c.Connect(ctx, Direct(remote), institutionID)
}

// Connect is Ensure with every API call taken through run on its own. A token
// recovered after the user completed consent rechecks the same requisition
// instead of opening a second session.
func (c *Cache) Connect(ctx context.Context, run Runner, institutionID string) (model.Requisition, error) {
	if !id.ValidInstitutionID(institutionID) {
		return model.Requisition{}, apperr.Newf(apperr.NotFound, "ensure requisition", "invalid institution id %q", institutionID)
	}
	var (
		rec model.Requisition
		ok  bool
	)
	err := run(ctx, func(remote Remote) error {
		var err error
		rec, ok, err = c.Resolve(ctx, remote, institutionID)
		return err
	})
	if err != nil {
		return model.Requisition{}, err
	}
	if ok {
		return rec, nil
	}
	return c.consentFlow(ctx, run, institutionID)
}

// CreateAndAwaitConsent starts a consent session, waits for the user to
// complete it, and checks the outcome exactly once. A requisition that is not
// linked afterwards fails with ConsentIncomplete and is not retried.
func (c *Cache) CreateAndAwaitConsent(ctx context.Context, remote Remote, institutionID string) (model.Requisition, error) {
	return c.consentFlow(ctx, Direct(remote), institutionID)
}

func (c *Cache) consentFlow(ctx context.Context, run Runner, institutionID string) (model.Requisition, error) {
	const op = "consent"
	if c.prompter == nil {
		return model.Requisition{}, apperr.Newf(apperr.ConsentIncomplete, op, "no connection to %s and no terminal to complete consent", institutionID)
	}

	req := model.ConsentRequest{
		InstitutionID:      institutionID,
		RedirectURL:        c.consent.RedirectURL,
		Reference:          c.newRef(),
		UserLanguage:       c.consent.UserLanguage,
		MaxHistoricalDays:  c.consent.MaxHistoricalDays,
		AccessValidForDays: c.consent.AccessValidForDays,
	}
	var session model.ConsentSession
	err := run(ctx, func(remote Remote) error {
		var err error
		session, err = remote.InitiateConsent(ctx, req)
		return err
	})
	if err != nil {
		return model.Requisition{}, fmt.Errorf("starting consent for %s: %w", institutionID, err)
	}
	c.logger.Info("consent started", zap.String("institution", institutionID), zap.String("requisition", session.RequisitionID))
	c.recorder.Record(component, "consent_started", institutionID, session.RequisitionID)

	if err := c.prompter.AwaitConsent(ctx, session); err != nil {
		if apperr.KindOf(err) == apperr.Unknown && ctx.Err() == nil {
			err = apperr.New(apperr.ConsentIncomplete, op, err)
		}
		return model.Requisition{}, err
	}

	var rec model.Requisition
	err = run(ctx, func(remote Remote) error {
		var err error
		rec, err = remote.GetRequisition(ctx, session.RequisitionID)
		return err
	})
	if err != nil {
		return model.Requisition{}, fmt.Errorf("checking consent for %s: %w", institutionID, err)
	}
	rec.InstitutionID = institutionID
	if rec.ID == "" {
		rec.ID = session.RequisitionID
	}
	if !rec.Usable() {
		c.recorder.Record(component, "consent_incomplete", institutionID, string(rec.Status))
		return model.Requisition{}, apperr.Newf(apperr.ConsentIncomplete, op, "requisition for %s is %s with %d accounts", institutionID, rec.Status, len(rec.AccountIDs))
	}

	if err := c.store.Save(map[string]string{id.RequisitionKey(institutionID): rec.ID}); err != nil {
		return model.Requisition{}, fmt.Errorf("saving requisition for %s: %w", institutionID, err)
	}
	c.logger.Info("consent linked", zap.String("institution", institutionID), zap.Int("accounts", len(rec.AccountIDs)))
	c.recorder.Record(component, "link", institutionID, fmt.Sprintf("%s, %d accounts", rec.ID, len(rec.AccountIDs)))
	return rec, nil
}
