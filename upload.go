package workflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultMaxChunkBytes is the per-chunk size ceiling when none is configured.
const DefaultMaxChunkBytes = 5 << 20

// UploadSession accumulates the chunks of one large evidence file. Chunks is
// a sparse slice with exactly TotalChunks slots; a filled slot is never
// overwritten by a re-send of the same index. Finalizing marks an in-flight
// reassembly claim: exactly one caller per full session may hold it, and it
// is released when the evidence write fails so a client retry can re-claim.
type UploadSession struct {
	UploadID       string    `json:"upload_id"`
	StepID         string    `json:"step_id"`
	WorkItemID     string    `json:"work_item_id"`
	OrganizationID string    `json:"organization_id"`
	FileName       string    `json:"file_name"`
	FileType       string    `json:"file_type,omitempty"`
	FileSize       int64     `json:"file_size,omitempty"`
	TotalChunks    int       `json:"total_chunks"`
	Chunks         [][]byte  `json:"-"`
	ReceivedChunks int       `json:"received_chunks"`
	Finalizing     bool      `json:"finalizing,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IngestChunkRequest carries one chunk of a chunked evidence upload.
type IngestChunkRequest struct {
	OrganizationID string
	WorkItemID     string
	StepID         string
	UploadID       string
	ChunkIndex     int
	TotalChunks    int
	Data           []byte
	FileName       string
	FileType       string
	FileSize       int64
}

// IngestChunkResult reports reassembly progress. Step is set only when this
// chunk completed the file and the evidence was recorded.
type IngestChunkResult struct {
	Completed      bool           `json:"completed"`
	ReceivedChunks int            `json:"received_chunks"`
	TotalChunks    int            `json:"total_chunks"`
	Step           *ExecutionStep `json:"step,omitempty"`
}

// UploadReassemblerOptions configures a new UploadReassembler
type UploadReassemblerOptions struct {
	Sessions      SessionStore
	Steps         *StepMachine
	MaxChunkBytes int
	Logger        *slog.Logger
}

// UploadReassembler accumulates out-of-order chunks under an upload session
// key and forwards the reassembled file to the step's evidence once every
// slot is filled.
type UploadReassembler struct {
	sessions      SessionStore
	steps         *StepMachine
	maxChunkBytes int
	logger        *slog.Logger
	clock         func() time.Time
}

// NewUploadReassembler creates a new UploadReassembler
func NewUploadReassembler(opts UploadReassemblerOptions) (*UploadReassembler, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Steps == nil {
		return nil, fmt.Errorf("step machine is required")
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &UploadReassembler{
		sessions:      opts.Sessions,
		steps:         opts.Steps,
		maxChunkBytes: opts.MaxChunkBytes,
		logger:        opts.Logger,
		clock:         time.Now,
	}, nil
}

// IngestChunk stores one chunk idempotently and, when the last slot fills,
// reassembles the file in index order, records it as file evidence on the
// step, and destroys the session. Re-sending an already received index does
// not change the session or the final file.
func (r *UploadReassembler) IngestChunk(ctx context.Context, req IngestChunkRequest) (*IngestChunkResult, error) {
	if req.UploadID == "" {
		return nil, NewInvalidArgumentError("upload id is required")
	}
	if req.StepID == "" {
		return nil, NewInvalidArgumentError("step id is required")
	}
	if req.TotalChunks <= 0 {
		return nil, NewInvalidArgumentError("total chunks must be positive")
	}
	if len(req.Data) == 0 {
		return nil, NewInvalidArgumentError("chunk data is required")
	}
	if req.ChunkIndex < 0 || req.ChunkIndex >= req.TotalChunks {
		return nil, NewInvalidArgumentError("chunk index %d out of range [0, %d)", req.ChunkIndex, req.TotalChunks)
	}
	if len(req.Data) > r.maxChunkBytes {
		return nil, NewPayloadTooLargeError("chunk of %d bytes exceeds limit of %d bytes", len(req.Data), r.maxChunkBytes)
	}

	var complete bool
	session, err := r.sessions.MutateSession(ctx, req.OrganizationID, req.UploadID, func(session *UploadSession) (*UploadSession, error) {
		now := r.clock()
		if session == nil {
			session = &UploadSession{
				UploadID:       req.UploadID,
				StepID:         req.StepID,
				WorkItemID:     req.WorkItemID,
				OrganizationID: req.OrganizationID,
				FileName:       req.FileName,
				FileType:       req.FileType,
				FileSize:       req.FileSize,
				TotalChunks:    req.TotalChunks,
				Chunks:         make([][]byte, req.TotalChunks),
				CreatedAt:      now,
			}
		} else if session.TotalChunks != req.TotalChunks {
			return nil, NewInvalidArgumentError("total chunks mismatch: session declares %d, request declares %d",
				session.TotalChunks, req.TotalChunks)
		}
		// Fill-if-empty: duplicate sends of an index are no-ops.
		if session.Chunks[req.ChunkIndex] == nil {
			session.Chunks[req.ChunkIndex] = req.Data
			session.ReceivedChunks++
		}
		session.UpdatedAt = now
		// Claim finalization atomically with the fill: of all callers that
		// observe a full session, exactly one may run reassembly. A
		// duplicate send racing the winner's finishUpload sees the claim
		// and reports progress instead.
		if session.ReceivedChunks == session.TotalChunks && !session.Finalizing {
			session.Finalizing = true
			complete = true
		}
		return session, nil
	})
	if err != nil {
		return nil, err
	}

	if !complete {
		return &IngestChunkResult{
			ReceivedChunks: session.ReceivedChunks,
			TotalChunks:    session.TotalChunks,
		}, nil
	}

	step, err := r.finishUpload(ctx, session)
	if err != nil {
		// The session is kept and the claim released so a client retry of
		// any chunk re-attempts the evidence write.
		r.releaseFinalization(ctx, session)
		return nil, err
	}
	return &IngestChunkResult{
		Completed:      true,
		ReceivedChunks: session.ReceivedChunks,
		TotalChunks:    session.TotalChunks,
		Step:           step,
	}, nil
}

// releaseFinalization drops the reassembly claim after a failed evidence
// write so a later chunk re-send can claim it again.
func (r *UploadReassembler) releaseFinalization(ctx context.Context, session *UploadSession) {
	_, err := r.sessions.MutateSession(ctx, session.OrganizationID, session.UploadID, func(current *UploadSession) (*UploadSession, error) {
		if current == nil {
			return nil, nil
		}
		current.Finalizing = false
		return current, nil
	})
	if err != nil {
		r.logger.Warn("failed to release upload finalization claim",
			"upload_id", session.UploadID, "error", err)
	}
}

// finishUpload concatenates the chunks in index order, records the file as
// evidence on the step, and deletes the session.
func (r *UploadReassembler) finishUpload(ctx context.Context, session *UploadSession) (*ExecutionStep, error) {
	var buf bytes.Buffer
	for _, chunk := range session.Chunks {
		buf.Write(chunk)
	}

	patch := &Evidence{
		Files: []*FileAttachment{{
			FileName:   session.FileName,
			FileType:   session.FileType,
			FileSize:   session.FileSize,
			FileData:   base64.StdEncoding.EncodeToString(buf.Bytes()),
			UploadedAt: r.clock(),
		}},
	}
	step, err := r.steps.AddEvidence(ctx, session.StepID, session.OrganizationID, patch)
	if err != nil {
		return nil, err
	}
	if err := r.sessions.DeleteSession(ctx, session.OrganizationID, session.UploadID); err != nil {
		r.logger.Warn("failed to delete completed upload session",
			"upload_id", session.UploadID, "error", err)
	}
	r.logger.Info("upload reassembled",
		"upload_id", session.UploadID,
		"step_id", session.StepID,
		"bytes", buf.Len(),
		"chunks", session.TotalChunks)
	return step, nil
}
