package persistence

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RecordVersion is written into every record.
const RecordVersion = 1

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Codec converts conversations to and from stored bytes.
type Codec interface {
	Format() Format
	Extension() string
	Encode(conv conversation.Conversation) ([]byte, error)
	// Decode returns a CorruptRecordError for anything that does not decode
	// into a valid conversation.
	Decode(id RecordID, b []byte) (conversation.Conversation, error)
	// DecodeInfo reads only what List needs.
	DecodeInfo(id RecordID, b []byte) (RecordInfo, error)
}

func CodecForFormat(f Format) (Codec, error) {
	switch f {
	case FormatJSON, "":
		return JSONCodec{}, nil
	case FormatYAML, "yml":
		return YAMLCodec{}, nil
	}
	return nil, chaterr.NewValidationError("format", "unknown record format "+string(f))
}

// Pointers distinguish a missing field from a zero value.
type record struct {
	Version    int             `json:"version" yaml:"version"`
	ID         *string         `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	CreatedAt  time.Time       `json:"created_at" yaml:"created_at"`
	ModifiedAt time.Time       `json:"modified_at" yaml:"modified_at"`
	NextTurnID uint64          `json:"next_turn_id" yaml:"next_turn_id"`
	Settings   *recordSettings `json:"settings" yaml:"settings"`
	Turns      *[]recordTurn   `json:"turns" yaml:"turns"`
}

type recordSettings struct {
	Temperature      *float64 `json:"temperature" yaml:"temperature"`
	TopP             *float64 `json:"top_p" yaml:"top_p"`
	PresencePenalty  *float64 `json:"presence_penalty" yaml:"presence_penalty"`
	FrequencyPenalty *float64 `json:"frequency_penalty" yaml:"frequency_penalty"`
	ModelID          *string  `json:"model_id" yaml:"model_id"`
	SystemPrompt     string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

type recordTurn struct {
	ID        *uint64    `json:"id" yaml:"id"`
	Role      *string    `json:"role" yaml:"role"`
	Content   *string    `json:"content" yaml:"content"`
	CreatedAt *time.Time `json:"created_at" yaml:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty" yaml:"edited_at,omitempty"`
	Errored   bool       `json:"errored,omitempty" yaml:"errored,omitempty"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
}

type recordHeader struct {
	Name       string    `json:"name" yaml:"name"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
}

func toRecord(conv conversation.Conversation) record {
	id := conv.ID
	s := conv.Settings
	turns := make([]recordTurn, len(conv.Turns))
	for i, t := range conv.Turns {
		tid := uint64(t.ID)
		role := string(t.Role)
		content := t.Content
		createdAt := t.CreatedAt
		turns[i] = recordTurn{
			ID:        &tid,
			Role:      &role,
			Content:   &content,
			CreatedAt: &createdAt,
			EditedAt:  t.EditedAt,
			Errored:   t.Errored,
			Error:     t.Error,
		}
	}
	return record{
		Version:    RecordVersion,
		ID:         &id,
		Name:       conv.Name,
		CreatedAt:  conv.CreatedAt,
		ModifiedAt: conv.ModifiedAt,
		NextTurnID: uint64(conv.NextTurnID),
		Settings: &recordSettings{
			Temperature:      &s.Temperature,
			TopP:             &s.TopP,
			PresencePenalty:  &s.PresencePenalty,
			FrequencyPenalty: &s.FrequencyPenalty,
			ModelID:          &s.ModelID,
			SystemPrompt:     s.SystemPrompt,
		},
		Turns: &turns,
	}
}

func missing(field string) error {
	return errors.Errorf("missing required field %s", field)
}

func fromRecord(r record) (conversation.Conversation, error) {
	if r.Version > RecordVersion {
		return conversation.Conversation{}, errors.Errorf("unsupported record version %d", r.Version)
	}
	if r.ID == nil {
		return conversation.Conversation{}, missing("id")
	}
	if r.Settings == nil {
		return conversation.Conversation{}, missing("settings")
	}
	if r.Turns == nil {
		return conversation.Conversation{}, missing("turns")
	}

	rs := r.Settings
	switch {
	case rs.Temperature == nil:
		return conversation.Conversation{}, missing("settings.temperature")
	case rs.TopP == nil:
		return conversation.Conversation{}, missing("settings.top_p")
	case rs.PresencePenalty == nil:
		return conversation.Conversation{}, missing("settings.presence_penalty")
	case rs.FrequencyPenalty == nil:
		return conversation.Conversation{}, missing("settings.frequency_penalty")
	case rs.ModelID == nil:
		return conversation.Conversation{}, missing("settings.model_id")
	}

	ret := conversation.Conversation{
		ID:         *r.ID,
		Name:       r.Name,
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
		NextTurnID: conversation.TurnID(r.NextTurnID),
		Settings: settings.Settings{
			Temperature:      *rs.Temperature,
			TopP:             *rs.TopP,
			PresencePenalty:  *rs.PresencePenalty,
			FrequencyPenalty: *rs.FrequencyPenalty,
			ModelID:          *rs.ModelID,
			SystemPrompt:     rs.SystemPrompt,
		},
		Turns: make([]conversation.Turn, 0, len(*r.Turns)),
	}

	for i, rt := range *r.Turns {
		switch {
		case rt.ID == nil:
			return conversation.Conversation{}, missing(turnField(i, "id"))
		case rt.Role == nil:
			return conversation.Conversation{}, missing(turnField(i, "role"))
		case rt.Content == nil:
			return conversation.Conversation{}, missing(turnField(i, "content"))
		}
		t := conversation.Turn{
			ID:       conversation.TurnID(*rt.ID),
			Role:     conversation.Role(*rt.Role),
			Content:  *rt.Content,
			EditedAt: rt.EditedAt,
			Errored:  rt.Errored,
			Error:    rt.Error,
		}
		if rt.CreatedAt != nil {
			t.CreatedAt = *rt.CreatedAt
		}
		ret.Turns = append(ret.Turns, t)
		if t.ID >= ret.NextTurnID {
			ret.NextTurnID = t.ID + 1
		}
	}

	// decoding never reports a ValidationError, only the message is kept
	if err := ret.Validate(); err != nil {
		return conversation.Conversation{}, errors.Errorf("invalid record content: %s", err.Error())
	}
	return ret, nil
}

func turnField(i int, field string) string {
	return "turns[" + strconv.Itoa(i) + "]." + field
}

type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) Format() Format    { return FormatJSON }
func (JSONCodec) Extension() string { return ".json" }

func (JSONCodec) Encode(conv conversation.Conversation) ([]byte, error) {
	b, err := json.MarshalIndent(toRecord(conv), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "could not encode record")
	}
	return b, nil
}

func (JSONCodec) Decode(id RecordID, b []byte) (conversation.Conversation, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return conversation.Conversation{}, chaterr.NewCorruptRecordError(id.String(), err)
	}
	ret, err := fromRecord(r)
	if err != nil {
		return conversation.Conversation{}, chaterr.NewCorruptRecordError(id.String(), err)
	}
	return ret, nil
}

func (JSONCodec) DecodeInfo(id RecordID, b []byte) (RecordInfo, error) {
	var h recordHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return RecordInfo{}, chaterr.NewCorruptRecordError(id.String(), err)
	}
	return RecordInfo{ID: id, Name: h.Name, ModifiedAt: h.ModifiedAt}, nil
}

type YAMLCodec struct{}

var _ Codec = YAMLCodec{}

func (YAMLCodec) Format() Format    { return FormatYAML }
func (YAMLCodec) Extension() string { return ".yaml" }

func (YAMLCodec) Encode(conv conversation.Conversation) ([]byte, error) {
	b, err := yaml.Marshal(toRecord(conv))
	if err != nil {
		return nil, errors.Wrap(err, "could not encode record")
	}
	return b, nil
}

func (YAMLCodec) Decode(id RecordID, b []byte) (conversation.Conversation, error) {
	var r record
	if err := yaml.Unmarshal(b, &r); err != nil {
		return conversation.Conversation{}, chaterr.NewCorruptRecordError(id.String(), err)
	}
	ret, err := fromRecord(r)
	if err != nil {
		return conversation.Conversation{}, chaterr.NewCorruptRecordError(id.String(), err)
	}
	return ret, nil
}

func (YAMLCodec) DecodeInfo(id RecordID, b []byte) (RecordInfo, error) {
	var h recordHeader
	if err := yaml.Unmarshal(b, &h); err != nil {
		return RecordInfo{}, chaterr.NewCorruptRecordError(id.String(), err)
	}
	return RecordInfo{ID: id, Name: h.Name, ModifiedAt: h.ModifiedAt}, nil
}
