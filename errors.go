package hipporeg

import "errors"

var (
	// ErrJurisdictionUnknown is returned for a partition key that is not
	// configured.
	ErrJurisdictionUnknown = errors.New("hipporeg: unknown jurisdiction")

	// ErrJurisdictionUnavailable is returned when a partition failed to
	// load. Other partitions keep serving.
	ErrJurisdictionUnavailable = errors.New("hipporeg: jurisdiction unavailable")

	// ErrSeedsDesynchronized is returned when every candidate seed is
	// missing from the graph and the uniform fallback is disabled.
	ErrSeedsDesynchronized = errors.New("hipporeg: seeds missing from graph")

	// ErrInvalidConfig is returned for malformed or out-of-range settings.
	ErrInvalidConfig = errors.New("hipporeg: invalid config")

	// ErrInvalidDamping is returned for a per-request damping outside (0, 1).
	ErrInvalidDamping = errors.New("hipporeg: damping must be in (0, 1)")

	// ErrInvalidRequest is returned for a malformed retrieval request.
	ErrInvalidRequest = errors.New("hipporeg: invalid request")

	// ErrSourceConflict is returned when a source is re-ingested with
	// different content without a rebuild.
	ErrSourceConflict = errors.New("hipporeg: source already ingested with different content")
)
