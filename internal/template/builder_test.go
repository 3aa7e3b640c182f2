package template

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/fleetload/internal/draft"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/validation"
	"github.com/rpattn/fleetload/internal/workbook"
)

type allCodes struct{}

func (allCodes) Codes(_ context.Context, collection string) ([]string, error) {
	return map[string][]string{
		"vehicle_types":     {"TRUCK", "TRAILER", "TANKER", "LCV", "CONTAINER"},
		"fuel_types":        {"DIESEL", "PETROL", "CNG", "LNG", "ELECTRIC"},
		"document_types":    {"RC", "INSURANCE", "PUC", "FITNESS", "PERMIT", "GST_CERTIFICATE", "PAN_CARD", "TRADE_LICENSE", "FIRE_NOC", "LEASE_DEED"},
		"transporter_types": {"FLEET_OWNER", "BROKER", "CARRIER", "THIRD_PARTY"},
		"warehouse_types":   {"DISTRIBUTION", "COLD_STORAGE", "BONDED", "CROSS_DOCK", "FULFILLMENT"},
	}[collection], nil
}

type emptyStore struct{}

func (emptyStore) ExistingValues(context.Context, string, string, []string) ([]string, error) {
	return nil, nil
}

func descriptors() []schema.Descriptor {
	return []schema.Descriptor{schema.Vehicle(), schema.Transporter(), schema.Warehouse()}
}

func TestBuildRoundTripsThroughValidation(t *testing.T) {
	for _, desc := range descriptors() {
		t.Run(string(desc.EntityType), func(t *testing.T) {
			payload, err := Build(desc)
			require.NoError(t, err)

			wb, err := workbook.Parse(payload, desc.Layout())
			require.NoError(t, err)

			set := draft.Resolve(wb, desc)
			require.Len(t, set.Drafts, len(desc.Basic().Samples))

			engine := validation.NewEngine(emptyStore{}, allCodes{})
			result, err := engine.Validate(context.Background(), desc, set, nil)
			require.NoError(t, err)
			assert.Empty(t, result.Findings())
		})
	}
}

func TestBuildSheetOrderEndsWithInstructions(t *testing.T) {
	desc := schema.Warehouse()
	payload, err := Build(desc)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer f.Close()

	var want []string
	for _, sheet := range desc.Sheets {
		want = append(want, sheet.Name)
	}
	want = append(want, schema.SheetInstructions)
	assert.Equal(t, want, f.GetSheetList())
}

func TestBuildAddsDropdownsForEnumColumns(t *testing.T) {
	desc := schema.Vehicle()
	payload, err := Build(desc)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer f.Close()

	for _, sheet := range desc.Sheets {
		var enums int
		for _, column := range sheet.Columns {
			if column.Type == schema.TypeEnum && len(column.Enum) > 0 {
				enums++
			}
		}
		validations, err := f.GetDataValidations(sheet.Name)
		require.NoError(t, err)
		assert.Len(t, validations, enums, sheet.Name)
		for _, dv := range validations {
			assert.Equal(t, "list", dv.Type)
		}
	}
}

func TestBuildHeadersMatchDescriptor(t *testing.T) {
	desc := schema.Transporter()
	payload, err := Build(desc)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer f.Close()

	for _, sheet := range desc.Sheets {
		rows, err := f.GetRows(sheet.Name)
		require.NoError(t, err)
		require.NotEmpty(t, rows)
		assert.Equal(t, sheet.Headers(), rows[0])
		assert.Len(t, rows, len(sheet.Samples)+1)
	}
}

func TestBuildRejectsEmptyDescriptor(t *testing.T) {
	_, err := Build(schema.Descriptor{EntityType: "vehicle"})
	assert.ErrorIs(t, err, ErrTemplateGeneration)
}
