package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuspay/fepgate/internal/iso8583"
)

const sampleDoc = "REQUIRED:2,3,4,11,41;FORMAT:2=N(13-19),4=N(12);VALUE:49=901|840;LENGTH:41=8;PATTERN:37=[0-9]{12};MTI:0800=REQUIRED:70"

func validWithdrawal() *iso8583.Message {
	return iso8583.NewMessage("0200").
		SetN(iso8583.FieldPAN, "4111111111111111").
		SetN(iso8583.FieldProcessingCode, "010000").
		SetN(iso8583.FieldAmount, "000000010000").
		SetN(iso8583.FieldStan, "000001").
		SetN(iso8583.FieldRrn, "000000000001").
		SetN(iso8583.FieldTerminalID, "ATM00001")
}

func TestValidMessagePasses(t *testing.T) {
	engine, err := NewEngine(sampleDoc)
	require.NoError(t, err)

	result := engine.Validate(validWithdrawal())
	assert.True(t, result.Valid, "unexpected errors: %s", result.Summary())
}

func TestRequiredFieldMissing(t *testing.T) {
	engine, err := NewEngine("REQUIRED:2,3,4,11,41")
	require.NoError(t, err)

	msg := validWithdrawal()
	delete11 := msg.Clone()
	delete11.Unset(iso8583.FieldStan)

	result := engine.Validate(delete11)
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, KindRequired, result.Errors[0].Kind)
	assert.Equal(t, "11", result.Errors[0].Field)
	assert.Equal(t, "Required field 11 is missing", result.Errors[0].Message)
	assert.Contains(t, result.Summary(), "Required field 11 is missing")
}

func TestFormatRules(t *testing.T) {
	engine, err := NewEngine("FORMAT:2=N(13-19),41=ANS(..8),54=B")
	require.NoError(t, err)

	tests := []struct {
		name  string
		field string
		value string
		valid bool
	}{
		{"pan ok", "2", "4111111111111111", true},
		{"pan too short", "2", "411111111111", false},
		{"pan not numeric", "2", "4111x11111111111", false},
		{"terminal ok", "41", "ATM00001", true},
		{"terminal too long", "41", "ATM000001", false},
		{"binary ok", "54", "deadBEEF01", true},
		{"binary bad hex", "54", "xyz", false},
		{"absent field ignored", "2", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := iso8583.NewMessage("0200")
			if tt.value != "" {
				msg.Set(tt.field, tt.value)
			}
			result := engine.Validate(msg)
			assert.Equal(t, tt.valid, result.Valid, result.Summary())
		})
	}
}

func TestValueAndLengthAndPattern(t *testing.T) {
	engine, err := NewEngine("VALUE:49=901|840;LENGTH:41=8;PATTERN:37=[0-9]{12}")
	require.NoError(t, err)

	msg := iso8583.NewMessage("0200").
		Set("49", "978").
		Set("41", "ATM1").
		Set("37", "12AB")

	result := engine.Validate(msg)
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 3)

	kinds := map[RuleKind]bool{}
	for _, e := range result.Errors {
		kinds[e.Kind] = true
		assert.NotEmpty(t, e.Expected)
		assert.NotEmpty(t, e.Actual)
	}
	assert.True(t, kinds[KindValue])
	assert.True(t, kinds[KindLength])
	assert.True(t, kinds[KindPattern])
}

func TestMTIScopedUnion(t *testing.T) {
	engine, err := NewEngine("REQUIRED:11;MTI:0800=REQUIRED:70")
	require.NoError(t, err)

	// 0200 only needs the global set.
	msg := iso8583.NewMessage("0200").SetN(iso8583.FieldStan, "000001")
	assert.True(t, engine.Validate(msg).Valid)

	// 0800 needs the union: global 11 plus scoped 70.
	echo := iso8583.NewMessage("0800").SetN(iso8583.FieldStan, "000001")
	result := engine.Validate(echo)
	require.False(t, result.Valid)
	assert.Equal(t, "70", result.Errors[0].Field)

	echo.SetN(iso8583.FieldNetMgmtCode, iso8583.NetMgmtEcho)
	assert.True(t, engine.Validate(echo).Valid)
}

func TestRoundTripTextJSON(t *testing.T) {
	fromText, err := ParseText(sampleDoc)
	require.NoError(t, err)

	jsonDoc, err := fromText.ToJSON()
	require.NoError(t, err)

	fromJSON, err := ParseJSON(jsonDoc)
	require.NoError(t, err)

	// Semantics must survive the conversion in both directions.
	assert.Equal(t, fromText.ToText(), fromJSON.ToText())

	again, err := ParseText(fromJSON.ToText())
	require.NoError(t, err)
	assert.Equal(t, fromText.ToText(), again.ToText())

	// And the evaluators agree.
	msg := validWithdrawal()
	a := NewEngineFromRules(fromText).Validate(msg)
	b := NewEngineFromRules(fromJSON).Validate(msg)
	assert.Equal(t, a, b)
}

func TestAutoDetect(t *testing.T) {
	fromText, err := Parse("REQUIRED:11")
	require.NoError(t, err)
	assert.Equal(t, []string{"11"}, fromText.Global.Required)

	fromJSON, err := Parse(`{"global":{"required":["11"]}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"11"}, fromJSON.Global.Required)

	assert.Equal(t, fromText.ToText(), fromJSON.ToText())
}

func TestParseErrors(t *testing.T) {
	_, err := ParseText("BOGUS:1")
	assert.Error(t, err)

	_, err = ParseText("FORMAT:2=X(10)")
	assert.Error(t, err)

	_, err = ParseText("PATTERN:37=[unclosed")
	assert.Error(t, err)

	_, err = ParseJSON(`{"global":{"unknown_key":1}}`)
	assert.Error(t, err)
}
