package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// BlockType tags a step in the series graph.
type BlockType string

const (
	BlockTypeRule     BlockType = "rule"
	BlockTypeWait     BlockType = "wait"
	BlockTypeEmail    BlockType = "email"
	BlockTypePush     BlockType = "push"
	BlockTypeChat     BlockType = "chat"
	BlockTypePost     BlockType = "post"
	BlockTypeCarousel BlockType = "carousel"
	BlockTypeTag      BlockType = "tag"
)

// ContentBlockTypes are the block types that deliver content to a visitor.
var ContentBlockTypes = map[BlockType]bool{
	BlockTypeEmail:    true,
	BlockTypePush:     true,
	BlockTypeChat:     true,
	BlockTypePost:     true,
	BlockTypeCarousel: true,
}

// IsContent reports whether the type delivers content through a channel
// adapter.
func (t BlockType) IsContent() bool {
	return ContentBlockTypes[t]
}

var (
	ErrUnknownBlockType   = errors.New("unknown block type")
	ErrInvalidBlockConfig = errors.New("invalid block config")
)

// BlockConfig is the type-specific payload of a block. Exactly one variant
// exists per block type family: RuleConfig, WaitConfig, ContentConfig,
// TagConfig.
type BlockConfig interface {
	// Validate checks the variant against the block type carrying it.
	Validate(blockType BlockType) error
}

// RuleConfig is the payload of a rule block: the audience predicate that
// decides the yes/no branch.
type RuleConfig struct {
	Predicate *RuleTree `json:"predicate"`
}

func (c *RuleConfig) Validate(_ BlockType) error {
	if c.Predicate == nil {
		return fmt.Errorf("%w: rule block requires a predicate", ErrInvalidBlockConfig)
	}

	return nil
}

// WaitMode selects how a wait block suspends the visitor.
type WaitMode string

const (
	WaitModeDuration WaitMode = "duration" // Relative: now + duration
	WaitModeDate     WaitMode = "date"     // Absolute timestamp
	WaitModeEvent    WaitMode = "event"    // Until a named visitor event fires
)

// WaitUnit is the unit of a duration-mode wait.
type WaitUnit string

const (
	WaitUnitSeconds WaitUnit = "seconds"
	WaitUnitMinutes WaitUnit = "minutes"
	WaitUnitHours   WaitUnit = "hours"
	WaitUnitDays    WaitUnit = "days"
	WaitUnitWeeks   WaitUnit = "weeks"
)

var waitUnitDurations = map[WaitUnit]time.Duration{
	WaitUnitSeconds: time.Second,
	WaitUnitMinutes: time.Minute,
	WaitUnitHours:   time.Hour,
	WaitUnitDays:    24 * time.Hour,
	WaitUnitWeeks:   7 * 24 * time.Hour,
}

// WaitConfig is the payload of a wait block.
type WaitConfig struct {
	Mode      WaitMode   `json:"mode"`
	Duration  int64      `json:"duration,omitempty"`
	Unit      WaitUnit   `json:"unit,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
	EventName string     `json:"event_name,omitempty"`
}

func (c *WaitConfig) Validate(_ BlockType) error {
	switch c.Mode {
	case WaitModeDuration:
		if c.Duration <= 0 {
			return fmt.Errorf("%w: wait duration must be positive", ErrInvalidBlockConfig)
		}

		if _, ok := waitUnitDurations[c.Unit]; !ok {
			return fmt.Errorf("%w: unknown wait unit %q", ErrInvalidBlockConfig, c.Unit)
		}

		return nil
	case WaitModeDate:
		if c.Date == nil || c.Date.IsZero() {
			return fmt.Errorf("%w: wait date is required", ErrInvalidBlockConfig)
		}

		return nil
	case WaitModeEvent:
		if strings.TrimSpace(c.EventName) == "" {
			return fmt.Errorf("%w: wait event name is required", ErrInvalidBlockConfig)
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown wait mode %q", ErrInvalidBlockConfig, c.Mode)
	}
}

// WakeTime computes the absolute wake timestamp for duration and date waits.
// Event waits have no wake time; callers suspend on the event name instead.
func (c *WaitConfig) WakeTime(now time.Time) (time.Time, error) {
	switch c.Mode {
	case WaitModeDuration:
		unit, ok := waitUnitDurations[c.Unit]
		if !ok || c.Duration <= 0 {
			return time.Time{}, fmt.Errorf("%w: wait duration %d %s", ErrInvalidBlockConfig, c.Duration, c.Unit)
		}

		return now.Add(time.Duration(c.Duration) * unit), nil
	case WaitModeDate:
		if c.Date == nil || c.Date.IsZero() {
			return time.Time{}, fmt.Errorf("%w: wait date is required", ErrInvalidBlockConfig)
		}

		return *c.Date, nil
	default:
		return time.Time{}, fmt.Errorf("%w: wait mode %q has no wake time", ErrInvalidBlockConfig, c.Mode)
	}
}

// ContentConfig is the payload of email/push/chat/post/carousel blocks.
// Email requires subject+body, push requires title+body; the in-app types
// carry body only.
type ContentConfig struct {
	Subject string `json:"subject,omitempty"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body,omitempty"`
}

func (c *ContentConfig) Validate(blockType BlockType) error {
	switch blockType {
	case BlockTypeEmail:
		if strings.TrimSpace(c.Subject) == "" || strings.TrimSpace(c.Body) == "" {
			return fmt.Errorf("%w: email block requires subject and body", ErrInvalidBlockConfig)
		}
	case BlockTypePush:
		if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Body) == "" {
			return fmt.Errorf("%w: push block requires title and body", ErrInvalidBlockConfig)
		}
	case BlockTypeChat, BlockTypePost, BlockTypeCarousel:
		// Empty body is a readiness warning, not a config error.
	default:
		return fmt.Errorf("%w: %q is not a content block", ErrInvalidBlockConfig, blockType)
	}

	return nil
}

// TagAction selects whether a tag block adds or removes the tag.
type TagAction string

const (
	TagActionAdd    TagAction = "add"
	TagActionRemove TagAction = "remove"
)

// TagConfig is the payload of a tag block.
type TagConfig struct {
	Action TagAction `json:"action"`
	Name   string    `json:"name"`
}

func (c *TagConfig) Validate(_ BlockType) error {
	if c.Action != TagActionAdd && c.Action != TagActionRemove {
		return fmt.Errorf("%w: tag action must be add or remove, got %q", ErrInvalidBlockConfig, c.Action)
	}

	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: tag name is required", ErrInvalidBlockConfig)
	}

	return nil
}

// NormalizedName returns the tag name as stored in the workspace catalogue.
func (c *TagConfig) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}

// Block is one typed step in a series graph. Position is presentation-only.
type Block struct {
	ID        string      `json:"id"`
	SeriesID  string      `json:"series_id"`
	Type      BlockType   `json:"type" validate:"required"`
	Config    BlockConfig `json:"config"`
	PositionX int         `json:"position_x"`
	PositionY int         `json:"position_y"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewBlockConfig returns the empty config variant for a block type.
func NewBlockConfig(blockType BlockType) (BlockConfig, error) {
	switch blockType {
	case BlockTypeRule:
		return &RuleConfig{}, nil
	case BlockTypeWait:
		return &WaitConfig{}, nil
	case BlockTypeEmail, BlockTypePush, BlockTypeChat, BlockTypePost, BlockTypeCarousel:
		return &ContentConfig{}, nil
	case BlockTypeTag:
		return &TagConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBlockType, blockType)
	}
}

// blockAlias avoids recursing into the custom (un)marshallers.
type blockAlias Block

type blockJSON struct {
	blockAlias

	Config json.RawMessage `json:"config"`
}

// UnmarshalJSON dispatches the config union on the block type.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*b = Block(raw.blockAlias)

	config, err := NewBlockConfig(b.Type)
	if err != nil {
		return err
	}

	if len(raw.Config) > 0 {
		if err := json.Unmarshal(raw.Config, config); err != nil {
			return fmt.Errorf("failed to decode %s block config: %w", b.Type, err)
		}
	}

	b.Config = config

	return nil
}

func (b Block) MarshalJSON() ([]byte, error) {
	config, err := json.Marshal(b.Config)
	if err != nil {
		return nil, err
	}

	return json.Marshal(blockJSON{blockAlias: blockAlias(b), Config: config})
}

// Validate checks that the config variant matches the block type and is
// internally consistent.
func (b *Block) Validate() error {
	if b.Config == nil {
		return fmt.Errorf("%w: block %s has no config", ErrInvalidBlockConfig, b.ID)
	}

	expected, err := NewBlockConfig(b.Type)
	if err != nil {
		return err
	}

	if fmt.Sprintf("%T", expected) != fmt.Sprintf("%T", b.Config) {
		return fmt.Errorf("%w: block %s carries %T, expected %T", ErrInvalidBlockConfig, b.ID, b.Config, expected)
	}

	return b.Config.Validate(b.Type)
}

// Condition labels the edge taken out of a block. Only rule blocks may use
// yes/no; every other type uses default.
type Condition string

const (
	ConditionYes     Condition = "yes"
	ConditionNo      Condition = "no"
	ConditionDefault Condition = "default"
)

// Connection is a directed edge between two blocks of the same series.
type Connection struct {
	ID          string    `json:"id"`
	SeriesID    string    `json:"series_id"`
	FromBlockID string    `json:"from_block_id" validate:"required"`
	ToBlockID   string    `json:"to_block_id"   validate:"required"`
	Condition   Condition `json:"condition"`
	CreatedAt   time.Time `json:"created_at"`
}
