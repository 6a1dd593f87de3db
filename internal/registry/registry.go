package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"SignalAttest/internal/circuits"
	xerrors "SignalAttest/internal/errors"
	"SignalAttest/internal/events"
	"SignalAttest/internal/proofs"
	"SignalAttest/pkg/logger"
)

// ModelAttestationRequest declares the public values of a model proof
// submission.
type ModelAttestationRequest struct {
	ModelHash common.Hash
	Version   uint64
	Timestamp uint64
	Attester  common.Address
	Artifact  *proofs.Artifact
}

// SignalAttestationRequest declares the public values of a signal proof
// submission.
type SignalAttestationRequest struct {
	SignalHash common.Hash
	ModelHash  common.Hash
	SignalType uint8
	Timestamp  uint64
	Attester   common.Address
	Artifact   *proofs.Artifact
}

// Params collects the registry dependencies.
type Params struct {
	Store           Store
	Verifier        *Verifier
	Publisher       events.Publisher
	Deployer        common.Address
	FreshnessWindow time.Duration
}

// Registry validates attestation submissions and appends accepted records.
type Registry struct {
	store     Store
	verifier  *Verifier
	publisher events.Publisher
	deployer  common.Address
	freshness time.Duration
	clock     func() time.Time
	log       *slog.Logger
	audit     *slog.Logger
}

// New builds a registry and authorizes the deployer.
func New(ctx context.Context, params Params) (*Registry, error) {
	if params.Store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "registry store is required")
	}
	if params.Verifier == nil {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "registry verifier is required")
	}
	if (params.Deployer == common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "deployer address is required")
	}
	freshness := params.FreshnessWindow
	if freshness <= 0 {
		freshness = time.Hour
	}
	r := &Registry{
		store:     params.Store,
		verifier:  params.Verifier,
		publisher: params.Publisher,
		deployer:  params.Deployer,
		freshness: freshness,
		clock:     time.Now,
		log:       logger.Named("registry"),
		audit:     logger.Audit(),
	}
	if err := r.store.SetAuthorization(ctx, params.Deployer, true); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "authorize deployer")
	}
	return r, nil
}

// AttestModel verifies a model proof and appends the record. Acceptance is
// all or nothing: any failed check leaves the registry unchanged.
func (r *Registry) AttestModel(ctx context.Context, req ModelAttestationRequest) (*ModelAttestation, error) {
	if err := r.requireAuthorized(ctx, req.Attester); err != nil {
		return nil, err
	}
	if req.Version == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "version must be at least 1")
	}
	if !circuits.FitsField(req.ModelHash) {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "model hash is not a canonical field element")
	}
	if err := r.checkFreshness(req.Timestamp); err != nil {
		return nil, err
	}

	expected := proofs.ModelPublicSignals(req.ModelHash, req.Version, req.Timestamp)
	if err := r.verifier.Verify(req.Artifact, circuits.ModelCircuitName, expected); err != nil {
		r.log.WarnContext(ctx, "model proof rejected",
			slog.String("model_hash", req.ModelHash.Hex()),
			slog.String("attester", req.Attester.Hex()),
			slog.String("code", string(xerrors.CodeOf(err))))
		return nil, err
	}

	record := &ModelAttestation{
		ModelHash:  req.ModelHash,
		Version:    req.Version,
		Timestamp:  req.Timestamp,
		Attester:   req.Attester,
		Verified:   true,
		RecordedAt: r.clock().UTC(),
	}
	if err := r.store.InsertModel(ctx, record); err != nil {
		return nil, storeErr(err, "insert model record")
	}

	r.audit.InfoContext(ctx, "model attested",
		slog.String("model_hash", record.ModelHash.Hex()),
		slog.Uint64("version", record.Version),
		slog.String("attester", record.Attester.Hex()))
	r.emit(ctx, func(e *events.Event) {
		e.Type = events.ModelAttested
		e.ModelHash = record.ModelHash
		e.Version = record.Version
		e.Timestamp = record.Timestamp
		e.Attester = record.Attester
		e.Caller = record.Attester
	})
	return record, nil
}

// AttestSignal verifies a signal proof against an already attested model and
// appends the record.
func (r *Registry) AttestSignal(ctx context.Context, req SignalAttestationRequest) (*SignalAttestation, error) {
	if err := r.requireAuthorized(ctx, req.Attester); err != nil {
		return nil, err
	}
	if uint64(req.SignalType) < circuits.SignalTypeMin || uint64(req.SignalType) > circuits.SignalTypeMax {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "signal type outside the supported range")
	}
	if !circuits.FitsField(req.SignalHash) || !circuits.FitsField(req.ModelHash) {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "hash is not a canonical field element")
	}
	if err := r.checkFreshness(req.Timestamp); err != nil {
		return nil, err
	}

	model, err := r.store.GetModel(ctx, req.ModelHash)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return nil, xerrors.New(xerrors.CodeModelNotFound,
				"referenced model is not attested",
				xerrors.WithMetadata("model_hash", req.ModelHash.Hex()))
		}
		return nil, storeErr(err, "look up referenced model")
	}
	if !model.Verified {
		return nil, xerrors.New(xerrors.CodeModelNotFound, "referenced model is not verified")
	}

	expected := proofs.SignalPublicSignals(req.SignalHash, true, req.ModelHash, req.Timestamp)
	if err := r.verifier.Verify(req.Artifact, circuits.SignalCircuitName, expected); err != nil {
		r.log.WarnContext(ctx, "signal proof rejected",
			slog.String("signal_hash", req.SignalHash.Hex()),
			slog.String("attester", req.Attester.Hex()),
			slog.String("code", string(xerrors.CodeOf(err))))
		return nil, err
	}

	record := &SignalAttestation{
		SignalHash: req.SignalHash,
		ModelHash:  req.ModelHash,
		Timestamp:  req.Timestamp,
		SignalType: req.SignalType,
		Attester:   req.Attester,
		Verified:   true,
		RecordedAt: r.clock().UTC(),
	}
	if err := r.store.InsertSignal(ctx, record); err != nil {
		return nil, storeErr(err, "insert signal record")
	}

	r.audit.InfoContext(ctx, "signal attested",
		slog.String("signal_hash", record.SignalHash.Hex()),
		slog.String("model_hash", record.ModelHash.Hex()),
		slog.Int("signal_type", int(record.SignalType)),
		slog.String("attester", record.Attester.Hex()))
	r.emit(ctx, func(e *events.Event) {
		e.Type = events.SignalAttested
		e.SignalHash = record.SignalHash
		e.ModelHash = record.ModelHash
		e.SignalType = record.SignalType
		e.Timestamp = record.Timestamp
		e.Attester = record.Attester
		e.Caller = record.Attester
	})
	return record, nil
}

// GetModel returns the model record for the hash, or MODEL_NOT_FOUND.
func (r *Registry) GetModel(ctx context.Context, modelHash common.Hash) (*ModelAttestation, error) {
	record, err := r.store.GetModel(ctx, modelHash)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return nil, xerrors.New(xerrors.CodeModelNotFound, "model is not attested")
		}
		return nil, storeErr(err, "look up model")
	}
	return record, nil
}

// GetSignal returns the signal record for the hash, or NOT_FOUND.
func (r *Registry) GetSignal(ctx context.Context, signalHash common.Hash) (*SignalAttestation, error) {
	record, err := r.store.GetSignal(ctx, signalHash)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return nil, err
		}
		return nil, storeErr(err, "look up signal")
	}
	return record, nil
}

// IsModelVerified reports whether the model hash has an accepted record. The
// query itself never rejects, an unknown hash is simply false.
func (r *Registry) IsModelVerified(ctx context.Context, modelHash common.Hash) (bool, error) {
	record, err := r.store.GetModel(ctx, modelHash)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return false, nil
		}
		return false, storeErr(err, "look up model")
	}
	return record.Verified, nil
}

// IsSignalVerified reports whether the signal hash has an accepted record.
func (r *Registry) IsSignalVerified(ctx context.Context, signalHash common.Hash) (bool, error) {
	record, err := r.store.GetSignal(ctx, signalHash)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return false, nil
		}
		return false, storeErr(err, "look up signal")
	}
	return record.Verified, nil
}

// IsSignalLinkedToModel reports whether the signal record references the
// model hash.
func (r *Registry) IsSignalLinkedToModel(ctx context.Context, signalHash, modelHash common.Hash) (bool, error) {
	record, err := r.store.GetSignal(ctx, signalHash)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return false, nil
		}
		return false, storeErr(err, "look up signal")
	}
	return record.ModelHash == modelHash, nil
}

// SetAttesterAuthorization grants or revokes an attester. The caller must
// itself be an authorized attester.
func (r *Registry) SetAttesterAuthorization(ctx context.Context, caller, attester common.Address, authorized bool) error {
	if err := r.requireAuthorized(ctx, caller); err != nil {
		return err
	}
	if (attester == common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidInput, "attester address is required")
	}
	if err := r.store.SetAuthorization(ctx, attester, authorized); err != nil {
		return storeErr(err, "update authorization")
	}
	r.audit.InfoContext(ctx, "attester authorization changed",
		slog.String("caller", caller.Hex()),
		slog.String("attester", attester.Hex()),
		slog.Bool("authorized", authorized))
	r.emit(ctx, func(e *events.Event) {
		e.Type = events.AttesterAuthorized
		e.Attester = attester
		e.Caller = caller
		e.Authorized = authorized
		e.Timestamp = uint64(r.clock().Unix())
	})
	return nil
}

// IsAuthorized reports whether the attester may submit attestations.
func (r *Registry) IsAuthorized(ctx context.Context, attester common.Address) (bool, error) {
	ok, err := r.store.IsAuthorized(ctx, attester)
	if err != nil {
		return false, storeErr(err, "look up authorization")
	}
	return ok, nil
}

// Stats returns the registry record counts.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	models, err := r.store.CountModels(ctx)
	if err != nil {
		return Stats{}, storeErr(err, "count models")
	}
	signals, err := r.store.CountSignals(ctx)
	if err != nil {
		return Stats{}, storeErr(err, "count signals")
	}
	return Stats{Models: models, Signals: signals}, nil
}

func (r *Registry) requireAuthorized(ctx context.Context, attester common.Address) error {
	ok, err := r.store.IsAuthorized(ctx, attester)
	if err != nil {
		return storeErr(err, "look up authorization")
	}
	if !ok {
		return xerrors.New(xerrors.CodeUnauthorizedAttester,
			"attester is not authorized",
			xerrors.WithMetadata("attester", attester.Hex()))
	}
	return nil
}

func (r *Registry) checkFreshness(timestamp uint64) error {
	if timestamp == 0 {
		return xerrors.New(xerrors.CodeInvalidTimestamp, "timestamp must be set")
	}
	now := r.clock().Unix()
	if now < 0 {
		now = 0
	}
	if timestamp > uint64(now) {
		return xerrors.New(xerrors.CodeInvalidTimestamp, "timestamp is in the future")
	}
	if uint64(now)-timestamp > uint64(r.freshness/time.Second) {
		return xerrors.New(xerrors.CodeInvalidTimestamp, "timestamp is outside the freshness window")
	}
	return nil
}

// emit publishes an event. Publish failures are logged, never surfaced: the
// record is already committed.
func (r *Registry) emit(ctx context.Context, fill func(*events.Event)) {
	if r.publisher == nil {
		return
	}
	event := events.NewEvent("")
	fill(&event)
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.log.ErrorContext(ctx, "publish event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}

func storeErr(err error, message string) error {
	if coded, ok := xerrors.From(err); ok {
		switch coded.Code() {
		case xerrors.CodeAlreadyAttested, xerrors.CodeNotFound:
			return err
		}
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
