package validator

import (
	"errors"
	"testing"

	"udite-analyzer/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 {
	return &f
}

func trafficSchema() *models.CategorySchema {
	return &models.CategorySchema{
		Name:          "traffic_state",
		SensorIDField: "location.id",
		Fields: []models.FieldSpec{
			{Path: "location", Kind: models.FieldObject},
			{Path: "location.id", Kind: models.FieldString},
			{Path: "location.district", Kind: models.FieldString},
			{Path: "t_metrics", Kind: models.FieldObject},
			{Path: "t_metrics.congestion_level", Kind: models.FieldString},
			{Path: "t_metrics.average_speed", Kind: models.FieldNumber},
		},
		Constraints: []models.Constraint{
			{Path: "t_metrics.congestion_level", Type: models.ConstraintEnum, Values: []string{"LOW", "MODERATE", "HIGH", "CRITICAL"}},
			{Path: "t_metrics.average_speed", Type: models.ConstraintRange, Min: floatPtr(0), Max: floatPtr(200)},
		},
	}
}

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"event_type": "traffic_state",
		"timestamp":  "2025-03-01T10:15:30.123456",
		"location": map[string]interface{}{
			"id":       "road-12",
			"district": "D3",
		},
		"t_metrics": map[string]interface{}{
			"congestion_level": "LOW",
			"average_speed":    42.0,
		},
	}
}

func TestDecode(t *testing.T) {
	payload, err := Decode([]byte(`{"event_type":"traffic_state","t_metrics":{"average_speed":12.5}}`))
	require.NoError(t, err)
	assert.Equal(t, "traffic_state", payload["event_type"])

	_, err = Decode([]byte(`{not json`))
	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, KindDecode, Kind(err))

	_, err = Decode([]byte(`null`))
	assert.True(t, errors.As(err, &decodeErr))

	_, err = Decode([]byte(`[1,2,3]`))
	assert.True(t, errors.As(err, &decodeErr))
}

func TestCategory(t *testing.T) {
	category, err := Category(validPayload())
	require.NoError(t, err)
	assert.Equal(t, "traffic_state", category)

	_, err = Category(map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, KindStructural, Kind(err))
	assert.Equal(t, []Violation{{Path: "event_type", Reason: "missing"}}, Violations(err))

	_, err = Category(map[string]interface{}{"event_type": 5.0})
	assert.Equal(t, KindStructural, Kind(err))
}

func TestValidateStructure_Valid(t *testing.T) {
	assert.NoError(t, ValidateStructure(validPayload(), trafficSchema()))
}

func TestValidateStructure_ReportsEveryMissingField(t *testing.T) {
	payload := validPayload()
	delete(payload, "timestamp")
	delete(payload["location"].(map[string]interface{}), "district")
	delete(payload, "t_metrics")

	err := ValidateStructure(payload, trafficSchema())
	require.Error(t, err)

	var structuralErr *StructuralError
	require.True(t, errors.As(err, &structuralErr))
	assert.Equal(t, "traffic_state", structuralErr.Category)
	assert.Equal(t, []Violation{
		{Path: "location.district", Reason: "missing"},
		{Path: "t_metrics", Reason: "missing"},
		{Path: "timestamp", Reason: "missing"},
	}, structuralErr.Violations)

	assert.Len(t, structuralErr.Unwrap(), 3)
	var violation Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "location.district", violation.Path)
	assert.ErrorIs(t, err, Violation{Path: "timestamp", Reason: "missing"})
}

func TestValidateStructure_WrongShape(t *testing.T) {
	payload := validPayload()
	payload["location"] = "road-12"
	payload["t_metrics"].(map[string]interface{})["average_speed"] = "fast"

	err := ValidateStructure(payload, trafficSchema())
	require.Error(t, err)
	assert.Equal(t, []Violation{
		{Path: "location", Reason: "expected object, got string"},
		{Path: "t_metrics.average_speed", Reason: "expected number, got string"},
	}, Violations(err))
}

func TestValidateStructure_OrderIndependent(t *testing.T) {
	payload := validPayload()
	delete(payload, "location")
	payload["t_metrics"].(map[string]interface{})["congestion_level"] = nil

	forward := trafficSchema()
	reversed := trafficSchema()
	for i, j := 0, len(reversed.Fields)-1; i < j; i, j = i+1, j-1 {
		reversed.Fields[i], reversed.Fields[j] = reversed.Fields[j], reversed.Fields[i]
	}

	errForward := ValidateStructure(payload, forward)
	errReversed := ValidateStructure(payload, reversed)
	require.Error(t, errForward)
	assert.Equal(t, Violations(errForward), Violations(errReversed))
	assert.Equal(t, []Violation{
		{Path: "location", Reason: "missing"},
		{Path: "t_metrics.congestion_level", Reason: "expected string, got null"},
	}, Violations(errForward))
}

func TestValidateStructure_BadTimestampAndSensorID(t *testing.T) {
	payload := validPayload()
	payload["timestamp"] = "not-a-time"
	payload["location"].(map[string]interface{})["id"] = "  "

	err := ValidateStructure(payload, trafficSchema())
	violations := Violations(err)
	require.Len(t, violations, 2)
	assert.Equal(t, "location.id", violations[0].Path)
	assert.Equal(t, "sensor id must not be empty", violations[0].Reason)
	assert.Equal(t, "timestamp", violations[1].Path)
}

func TestValidateCoherence_Valid(t *testing.T) {
	assert.NoError(t, ValidateCoherence(validPayload(), trafficSchema()))
}

func TestValidateCoherence_BoundaryInclusion(t *testing.T) {
	cs := trafficSchema()
	metrics := func(p map[string]interface{}) map[string]interface{} {
		return p["t_metrics"].(map[string]interface{})
	}

	for _, speed := range []float64{0, 200, 100.5} {
		p := validPayload()
		metrics(p)["average_speed"] = speed
		assert.NoError(t, ValidateCoherence(p, cs), "speed %v should be accepted", speed)
	}

	for _, speed := range []float64{-0.001, 200.001, -5} {
		p := validPayload()
		metrics(p)["average_speed"] = speed
		err := ValidateCoherence(p, cs)
		require.Error(t, err, "speed %v should be rejected", speed)
		assert.Equal(t, KindCoherence, Kind(err))
		assert.Equal(t, "t_metrics.average_speed", Violations(err)[0].Path)
	}
}

func TestValidateCoherence_ReportsEveryViolation(t *testing.T) {
	p := validPayload()
	p["t_metrics"] = map[string]interface{}{
		"congestion_level": "GRIDLOCK",
		"average_speed":    -5.0,
	}

	err := ValidateCoherence(p, trafficSchema())
	require.Error(t, err)

	var coherenceErr *CoherenceError
	require.True(t, errors.As(err, &coherenceErr))
	assert.Equal(t, []Violation{
		{Path: "t_metrics.average_speed", Reason: "value -5 out of range [0, 200]"},
		{Path: "t_metrics.congestion_level", Reason: "value GRIDLOCK not in [LOW, MODERATE, HIGH, CRITICAL]"},
	}, coherenceErr.Violations)
	assert.Len(t, coherenceErr.Unwrap(), 2)
	assert.ErrorIs(t, err, Violation{Path: "t_metrics.congestion_level", Reason: "value GRIDLOCK not in [LOW, MODERATE, HIGH, CRITICAL]"})
}

func TestValidateCoherence_OpenBounds(t *testing.T) {
	cs := &models.CategorySchema{
		Name:   "environment",
		Fields: []models.FieldSpec{{Path: "temperature", Kind: models.FieldNumber}},
		Constraints: []models.Constraint{
			{Path: "temperature", Type: models.ConstraintRange, Max: floatPtr(60)},
		},
	}

	assert.NoError(t, ValidateCoherence(map[string]interface{}{"temperature": -300.0}, cs))
	err := ValidateCoherence(map[string]interface{}{"temperature": 61.0}, cs)
	require.Error(t, err)
	assert.Equal(t, "value 61 out of range [-inf, 60]", Violations(err)[0].Reason)
}

func TestKind_Other(t *testing.T) {
	assert.Equal(t, KindOther, Kind(errors.New("boom")))
	assert.Equal(t, KindUnknownCategory, Kind(&UnknownCategoryError{Category: "x"}))
	assert.Nil(t, Violations(errors.New("boom")))
}
