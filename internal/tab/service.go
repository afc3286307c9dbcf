package tab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/bill-splitter/internal/bill"
	"github.com/zombor/bill-splitter/internal/scanning"
)

var (
	// ErrBusy is returned while another external call is in flight
	ErrBusy = errors.New("still working on the previous request")

	// ErrNoReceipt is returned when an operation needs a receipt and none is loaded
	ErrNoReceipt = errors.New("no receipt loaded")

	// ErrEditInProgress is returned for split changes while the receipt is being edited
	ErrEditInProgress = errors.New("receipt is being edited")

	// ErrUnconfirmed is returned when a destructive action was not confirmed
	ErrUnconfirmed = errors.New("action needs confirmation")

	// ErrSessionReset is returned when a result arrives for a session that has since been replaced
	ErrSessionReset = errors.New("session changed while the request was in flight")

	// ErrEmptyMessage is returned for blank chat messages
	ErrEmptyMessage = errors.New("message is empty")
)

// lowConfidence is the extraction confidence below which a line is flagged for review
const lowConfidence = 0.7

// IDGenerator generates session generation tokens
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

type storedImage struct {
	key         string
	contentType string
}

// Service owns the state of one bill-splitting session. Every mutation goes through
// its mutex; external calls run outside the lock and only one may be in flight.
// Results are applied only if the session generation is still the one the call
// started in: uploads, resets and receipt commits all start a new generation.
type Service struct {
	scanner     scanning.Scanner
	interpreter scanning.Interpreter
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	metrics     *Metrics

	mu         sync.Mutex
	generation string
	busy       bool
	receipt    *bill.Receipt
	split      bill.BillSplit
	chat       bill.Conversation
	edit       bill.Transaction
	image      *storedImage

	// interpreting is set while a chat command is in flight. Manual assignments made
	// meanwhile are kept in replay and reapplied on top of the merged proposal.
	interpreting bool
	replay       []manualAssignment
}

type manualAssignment struct {
	itemIndex int
	names     []string
}

// NewService creates a new Service with default ID generator and time source
func NewService(scanner scanning.Scanner, interpreter scanning.Interpreter, storage Storage) *Service {
	return NewServiceWithDeps(scanner, interpreter, storage, &uuidGenerator{}, &defaultTimeSource{}, NewMetrics())
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(scanner scanning.Scanner, interpreter scanning.Interpreter, storage Storage, idGen IDGenerator, timeSrc TimeSource, metrics *Metrics) *Service {
	return &Service{
		scanner:     scanner,
		interpreter: interpreter,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		metrics:     metrics,
		generation:  idGen.Generate(),
	}
}

// Metrics returns the service's counters
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Snapshot is a read-only projection of the session
type Snapshot struct {
	Generation string `json:"generation"`
	// Receipt is the draft while an edit is open, otherwise the committed receipt
	Receipt     *bill.Receipt        `json:"receipt"`
	EditState   bill.EditState       `json:"edit_state"`
	Split       bill.BillSplit       `json:"split"`
	Assignments bill.AssignmentIndex `json:"assignments"`
	Unassigned  []int                `json:"unassigned"`
	SplitTotal  float64              `json:"split_total"`
	Messages    []bill.ChatMessage   `json:"messages"`
	Busy        bool                 `json:"busy"`
	HasImage    bool                 `json:"has_image"`
}

// Snapshot returns the current state
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Receipt returns the committed receipt
func (s *Service) Receipt() (bill.Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receipt == nil {
		return bill.Receipt{}, false
	}
	return s.receipt.Clone(), true
}

// Upload scans a bill photo and starts a new session around it
func (s *Service) Upload(ctx context.Context, filename string, data []byte, contentType string) (*Snapshot, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	generation := s.generation
	s.mu.Unlock()

	receiptData, err := s.scanner.ScanReceipt(ctx, data, contentType)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if generation != s.generation {
		slog.Info("Discarding receipt scan for a replaced session", "filename", filename)
		s.metrics.staleResults.Inc()
		return nil, ErrSessionReset
	}
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.metrics.extraction(resultLabel(err, scanning.ErrExtractionFormat))
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	receipt := toReceipt(receiptData)
	s.resetLocked("upload")
	s.receipt = &receipt

	key, err := s.storage.Save(fmt.Sprintf("%s_%s", s.generation, sanitizeFilename(filename)), data)
	if err != nil {
		slog.Warn("Failed to keep receipt image", "filename", filename, "error", err)
	} else {
		s.image = &storedImage{key: key, contentType: contentType}
	}

	s.appendLocked(bill.SenderSystem, uploadNotice(receipt))
	s.metrics.extraction("ok")
	slog.Info("Receipt scanned", "items", len(receipt.Items), "total", receipt.Total)

	snap := s.snapshotLocked()
	return &snap, nil
}

// Chat sends a free-form instruction to the interpreter and merges its proposal
func (s *Service) Chat(ctx context.Context, text string) (*Snapshot, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	switch {
	case s.busy:
		s.mu.Unlock()
		return nil, ErrBusy
	case s.receipt == nil:
		s.mu.Unlock()
		return nil, ErrNoReceipt
	case s.edit.State() == bill.StateEditing:
		s.mu.Unlock()
		return nil, ErrEditInProgress
	}
	s.busy = true
	s.interpreting = true
	s.replay = nil
	generation := s.generation
	req := scanning.SplitRequest{
		Receipt:     s.receipt.Clone(),
		Split:       s.split.Clone(),
		Instruction: text,
	}
	s.appendLocked(bill.SenderUser, text)
	s.mu.Unlock()

	proposal, err := s.interpreter.InterpretSplit(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.interpreting = false
	replay := s.replay
	s.replay = nil

	if generation != s.generation {
		slog.Info("Discarding split update for a replaced session", "instruction", text)
		s.metrics.staleResults.Inc()
		return nil, ErrSessionReset
	}
	if err != nil {
		slog.Error("Failed to interpret split command", "instruction", text, "error", err)
		s.metrics.interpretation(resultLabel(err, scanning.ErrInterpretationFormat))
		if errors.Is(err, scanning.ErrInterpretationFormat) {
			s.appendLocked(bill.SenderSystem, "I couldn't make sense of the answer for that request. The split was not changed.")
		} else {
			s.appendLocked(bill.SenderSystem, "Something went wrong while updating the split. The split was not changed.")
		}
		return nil, fmt.Errorf("interpreting split command: %w", err)
	}

	merged, err := bill.MergeExternalSplit(s.split, proposal.Split, *s.receipt)
	if err != nil {
		slog.Warn("Rejected split proposal", "instruction", text, "error", err)
		s.metrics.interpretation("rejected")
		s.appendLocked(bill.SenderSystem, "That update referred to items I couldn't match to the receipt. The split was not changed.")
		return nil, fmt.Errorf("%w: %w", scanning.ErrInterpretationFormat, err)
	}

	// Assignments made while the command was in flight are newer than the proposal
	for _, a := range replay {
		merged, err = bill.AssignItem(merged, *s.receipt, a.itemIndex, a.names)
		if err != nil {
			return nil, fmt.Errorf("replaying assignment: %w", err)
		}
	}

	s.split = merged
	if bill.Degenerate(*s.receipt) {
		slog.Debug("Receipt subtotal is zero, tax and tip were not distributed")
	}
	reply := proposal.Message
	if reply == "" {
		reply = "Updated the split."
	}
	s.appendLocked(bill.SenderAssistant, reply)
	s.metrics.interpretation("ok")

	snap := s.snapshotLocked()
	return &snap, nil
}

// Assign makes names the holders of the receipt line at itemIndex. An empty list unassigns it.
func (s *Service) Assign(itemIndex int, names []string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.receipt == nil {
		return nil, ErrNoReceipt
	}
	if s.edit.State() == bill.StateEditing {
		return nil, ErrEditInProgress
	}

	split, err := bill.AssignItem(s.split, *s.receipt, itemIndex, names)
	if err != nil {
		return nil, fmt.Errorf("assigning item: %w", err)
	}
	s.split = split
	if s.interpreting {
		s.replay = append(s.replay, manualAssignment{itemIndex: itemIndex, names: append([]string(nil), names...)})
	}
	if bill.Degenerate(*s.receipt) {
		slog.Debug("Receipt subtotal is zero, tax and tip were not distributed")
	}

	s.appendLocked(bill.SenderSystem, bill.DescribeAssignment(s.receipt.Items[itemIndex], names))
	s.metrics.assignments.Inc()

	snap := s.snapshotLocked()
	return &snap, nil
}

// BeginEdit opens an edit session over a copy of the receipt
func (s *Service) BeginEdit() (*Snapshot, error) {
	return s.editDraft(func() error {
		if s.receipt == nil {
			return ErrNoReceipt
		}
		return s.edit.Begin(*s.receipt)
	})
}

// UpdateDraftItem changes a line on the draft
func (s *Service) UpdateDraftItem(index int, u bill.ItemUpdate) (*Snapshot, error) {
	return s.editDraft(func() error {
		return s.edit.UpdateItem(index, u)
	})
}

// AddDraftItem appends a line to the draft
func (s *Service) AddDraftItem(item bill.LineItem) (*Snapshot, error) {
	return s.editDraft(func() error {
		return s.edit.AddItem(item)
	})
}

// RemoveDraftItem deletes a line from the draft
func (s *Service) RemoveDraftItem(index int) (*Snapshot, error) {
	return s.editDraft(func() error {
		return s.edit.RemoveItem(index)
	})
}

// UpdateDraftTotals changes the draft's subtotal, tax or tip
func (s *Service) UpdateDraftTotals(u bill.TotalsUpdate) (*Snapshot, error) {
	return s.editDraft(func() error {
		return s.edit.UpdateTotals(u)
	})
}

// CancelEdit discards the draft
func (s *Service) CancelEdit() (*Snapshot, error) {
	return s.editDraft(func() error {
		return s.edit.Cancel()
	})
}

// CommitEdit promotes the draft to the receipt. Because item identities may have
// changed, the split is cleared and the log restarts with a single notice.
func (s *Service) CommitEdit(confirmed bool) (*Snapshot, error) {
	if !confirmed {
		return nil, ErrUnconfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	committed, err := s.edit.Commit()
	if err != nil {
		return nil, fmt.Errorf("committing receipt edit: %w", err)
	}

	s.receipt = &committed
	s.split = nil
	s.replay = nil
	s.chat.Clear()
	s.appendLocked(bill.SenderSystem, fmt.Sprintf(
		"Receipt updated: %s, total %s. The previous split was cleared.",
		plural(len(committed.Items), "item"), bill.FormatMoney(committed.Total)))
	s.generation = s.idGenerator.Generate()
	s.metrics.reset("commit")
	slog.Info("Receipt edit committed", "items", len(committed.Items), "total", committed.Total)

	snap := s.snapshotLocked()
	return &snap, nil
}

// Reset starts a new empty session
func (s *Service) Reset(confirmed bool) (*Snapshot, error) {
	if !confirmed {
		return nil, ErrUnconfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked("new_tab")
	slog.Info("Session reset")

	snap := s.snapshotLocked()
	return &snap, nil
}

// Image returns the uploaded photo of the current receipt
func (s *Service) Image() ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.image == nil {
		return nil, "", ErrNoReceipt
	}
	data, err := s.storage.Get(s.image.key)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, s.image.contentType, nil
}

func (s *Service) editDraft(fn func() error) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(); err != nil {
		return nil, fmt.Errorf("editing receipt: %w", err)
	}
	snap := s.snapshotLocked()
	return &snap, nil
}

// resetLocked drops everything tied to the current receipt and starts a new generation.
// The busy flag is left alone: an in-flight call still counts until it returns.
func (s *Service) resetLocked(cause string) {
	if s.image != nil {
		if err := s.storage.Delete(s.image.key); err != nil {
			slog.Warn("Failed to delete receipt image", "key", s.image.key, "error", err)
		}
		s.image = nil
	}
	if s.edit.State() == bill.StateEditing {
		_ = s.edit.Cancel()
	}
	s.receipt = nil
	s.split = nil
	s.replay = nil
	s.chat.Clear()
	s.generation = s.idGenerator.Generate()
	s.metrics.reset(cause)
}

func (s *Service) appendLocked(sender bill.Sender, text string) {
	s.chat.Append(bill.ChatMessage{Sender: sender, Text: text, At: s.timeSource.Now()})
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{
		Generation:  s.generation,
		EditState:   s.edit.State(),
		Split:       s.split.Clone(),
		Assignments: bill.Index(s.split),
		Unassigned:  []int{},
		SplitTotal:  bill.SplitTotal(s.split),
		Messages:    s.chat.Messages(),
		Busy:        s.busy,
		HasImage:    s.image != nil,
	}
	if snap.Split == nil {
		snap.Split = bill.BillSplit{}
	}
	if s.receipt != nil {
		r := s.receipt.Clone()
		snap.Receipt = &r
	}
	// Draft indexes do not line up with the split, so nothing is reported unassigned while editing
	if draft, ok := s.edit.Draft(); ok {
		snap.Receipt = &draft
	} else if s.receipt != nil {
		snap.Unassigned = snap.Assignments.Unassigned(*s.receipt)
	}
	return snap
}

func toReceipt(data *scanning.ReceiptData) bill.Receipt {
	receipt := bill.Receipt{
		Items:    make([]bill.LineItem, 0, len(data.Items)),
		Subtotal: data.Subtotal,
		Tax:      data.Tax,
		Tip:      data.Tip,
		Total:    data.Total,
	}
	for _, item := range data.Items {
		receipt.Items = append(receipt.Items, bill.LineItem(item))
	}
	return receipt
}

func uploadNotice(receipt bill.Receipt) string {
	notice := fmt.Sprintf("Scanned %s totaling %s.", plural(len(receipt.Items), "item"), bill.FormatMoney(receipt.Total))
	var unsure int
	for _, item := range receipt.Items {
		if item.Confidence < lowConfidence {
			unsure++
		}
	}
	if unsure > 0 {
		notice += fmt.Sprintf(" %s could not be read clearly, check them before splitting.", plural(unsure, "item"))
	}
	return notice
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func resultLabel(err, formatErr error) string {
	if errors.Is(err, formatErr) {
		return "format_error"
	}
	return "error"
}
