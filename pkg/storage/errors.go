package storage

import "errors"

// Sentinel errors raised by the storage engine. Callers branch on these
// with errors.Is; the query package wraps them into its own tagged Error
// kind (see pkg/query/errors.go).
var (
	// ErrCompatibility is returned when the .ndb header's storage epoch
	// does not match the epoch this build expects. NervusDB never
	// silently migrates an incompatible file.
	ErrCompatibility = errors.New("storage: incompatible format epoch")

	// ErrWALCorrupted is returned when a WAL frame's CRC does not match
	// its payload.
	ErrWALCorrupted = errors.New("storage: wal frame corrupted")

	// ErrWALProtocol flags a violation of the WAL framing discipline
	// that is not a checksum failure: a CommitTx with no matching
	// BeginTx, or a record appearing outside a begin/commit bracket.
	// WriteTxn.CreateNode also returns it for an external id reserved
	// twice within one transaction.
	ErrWALProtocol = errors.New("storage: wal protocol violation")

	// ErrDuplicateExternalID is returned by WriteTxn.CreateNode when the
	// external id already exists in the committed IdMap.
	ErrDuplicateExternalID = errors.New("storage: duplicate external id")

	// ErrIDMapMismatch is returned on WAL replay when a CreateNode record
	// remaps an external id that is already mapped to a different
	// internal id — this indicates a corrupted WAL and is fatal.
	ErrIDMapMismatch = errors.New("storage: external id remapped to a different internal id")

	// ErrInternalIDOutOfOrder is returned by IdMap.ApplyCreateNode when
	// the internal id supplied does not equal the map's current
	// next-internal-id counter.
	ErrInternalIDOutOfOrder = errors.New("storage: internal id is not the next expected id")

	// ErrNodeNotFound is returned by IdMap.UpdateLabel for an unknown
	// internal id. No storage operation returns ErrEdgeNotFound.
	ErrNodeNotFound = errors.New("storage: node not found")
	ErrEdgeNotFound = errors.New("storage: edge not found")

	// ErrClosed names the closed-engine condition; no storage operation
	// returns it.
	ErrClosed = errors.New("storage: engine closed")

	// ErrBusy is returned by Engine.Close while a write transaction is
	// still live; the embedder must commit or roll back first.
	ErrBusy = errors.New("storage: a write transaction is still active")

	// ErrPageOutOfRange is returned by the Pager when a page id exceeds
	// the file's allocated page count.
	ErrPageOutOfRange = errors.New("storage: page id out of range")
)
