package validation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/graph-gophers/dataloader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/draft"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/workbook"
)

var seededCodes = map[string][]string{
	"vehicle_types":     {"TRUCK", "TRAILER", "TANKER", "LCV", "CONTAINER"},
	"fuel_types":        {"DIESEL", "PETROL", "CNG", "LNG", "ELECTRIC"},
	"document_types":    {"RC", "INSURANCE", "PUC", "FITNESS", "PERMIT", "GST_CERTIFICATE", "PAN_CARD", "TRADE_LICENSE", "FIRE_NOC", "LEASE_DEED"},
	"transporter_types": {"FLEET_OWNER", "BROKER", "CARRIER", "THIRD_PARTY"},
	"warehouse_types":   {"DISTRIBUTION", "COLD_STORAGE", "BONDED", "CROSS_DOCK", "FULFILLMENT"},
}

type stubMaster struct {
	calls map[string]int
	mu    sync.Mutex
}

func (s *stubMaster) Codes(_ context.Context, collection string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[collection]++
	return seededCodes[collection], nil
}

type stubStore struct {
	existing map[string][]string
	err      error
	calls    map[string]int
	asked    map[string][]string
	mu       sync.Mutex
}

func (s *stubStore) ExistingValues(_ context.Context, table, column string, values []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := table + "." + column
	if s.calls == nil {
		s.calls = map[string]int{}
		s.asked = map[string][]string{}
	}
	s.calls[key]++
	s.asked[key] = append(s.asked[key], values...)
	if s.err != nil {
		return nil, s.err
	}
	var found []string
	for _, candidate := range s.existing[key] {
		for _, value := range values {
			if candidate == value {
				found = append(found, candidate)
			}
		}
	}
	return found, nil
}

// samplesWorkbook lays out the descriptor's bundled samples the way the template does.
func samplesWorkbook(desc schema.Descriptor) *workbook.Workbook {
	wb := &workbook.Workbook{Sheets: map[string]*workbook.Sheet{}}
	for _, sheet := range desc.Sheets {
		parsed := &workbook.Sheet{Name: sheet.Name, Headers: sheet.Headers()}
		for i, sample := range sheet.Samples {
			cells := map[string]workbook.Cell{}
			for header, value := range sample {
				cells[header] = schema.SampleCell(value)
			}
			parsed.Rows = append(parsed.Rows, workbook.NewRow(sheet.Name, i+2, cells))
		}
		wb.Order = append(wb.Order, sheet.Name)
		wb.Sheets[sheet.Name] = parsed
	}
	return wb
}

func row(sheet string, number int, values map[string]any) workbook.Row {
	cells := map[string]workbook.Cell{}
	for header, value := range values {
		cells[header] = schema.SampleCell(value)
	}
	return workbook.NewRow(sheet, number, cells)
}

func vehicleBasic(number int, ref, registration, vin string) workbook.Row {
	return row(schema.SheetBasicInformation, number, map[string]any{
		"Vehicle_Ref_ID": ref, "Registration_Number": registration, "VIN": vin,
		"Vehicle_Type": "TRUCK", "Make": "Tata", "Model": "Prima", "Fuel_Type": "DIESEL",
	})
}

func singleSheet(rows ...workbook.Row) *workbook.Workbook {
	wb := &workbook.Workbook{Sheets: map[string]*workbook.Sheet{}}
	for _, r := range rows {
		sheet, ok := wb.Sheets[r.Sheet]
		if !ok {
			sheet = &workbook.Sheet{Name: r.Sheet}
			wb.Sheets[r.Sheet] = sheet
			wb.Order = append(wb.Order, r.Sheet)
		}
		sheet.Rows = append(sheet.Rows, r)
	}
	return wb
}

func TestBundledSamplesAreValid(t *testing.T) {
	for _, desc := range []schema.Descriptor{schema.Vehicle(), schema.Transporter(), schema.Warehouse()} {
		t.Run(string(desc.EntityType), func(t *testing.T) {
			engine := NewEngine(&stubStore{}, &stubMaster{}, WithWorkers(2))
			set := draft.Resolve(samplesWorkbook(desc), desc)
			result, err := engine.Validate(context.Background(), desc, set, nil)
			require.NoError(t, err)

			assert.Empty(t, result.Findings())
			valid, invalid := result.Counts()
			assert.Equal(t, len(desc.Basic().Samples), valid)
			assert.Zero(t, invalid)
		})
	}
}

func TestOrphanChildRowYieldsSingleStructuralFinding(t *testing.T) {
	desc := schema.Vehicle()
	wb := singleSheet(
		vehicleBasic(2, "VR001", "MH12AB1234", "MAT123456789ABCDE"),
		row("Specifications", 2, map[string]any{"Vehicle_Ref_ID": "VR002", "Gross_Vehicle_Weight_KG": 1000, "Unladen_Weight_KG": 400}),
	)

	result, err := NewEngine(&stubStore{}, &stubMaster{}).Validate(context.Background(), desc, draft.Resolve(wb, desc), nil)
	require.NoError(t, err)

	findings := result.Findings()
	require.Len(t, findings, 1)
	assert.Equal(t, "Specifications", findings[0].Sheet)
	assert.Equal(t, 2, findings[0].RowNumber)
	assert.Equal(t, domain.CategoryStructural, findings[0].Category)
	assert.Contains(t, findings[0].Message, "VR002")

	require.Len(t, result.Creatable(), 1)
	assert.Equal(t, "VR001", result.Creatable()[0].Draft.RefID)
}

func TestDuplicateVINFlagsOnlyLaterOccurrence(t *testing.T) {
	desc := schema.Vehicle()
	wb := singleSheet(
		vehicleBasic(2, "VR001", "MH12AB1234", "MAT123456789ABCDE"),
		vehicleBasic(3, "VR002", "MH12AB1235", "MAT123456789ABCDE"),
	)

	result, err := NewEngine(&stubStore{}, &stubMaster{}).Validate(context.Background(), desc, draft.Resolve(wb, desc), nil)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)

	assert.Empty(t, result.Outcomes[0].Findings)
	assert.True(t, result.Outcomes[0].Creatable)

	second := result.Outcomes[1]
	require.Len(t, second.Findings, 1)
	assert.Equal(t, "VIN", second.Findings[0].Field)
	assert.Equal(t, domain.SeverityHigh, second.Findings[0].Severity)
	assert.Equal(t, domain.CategoryUniqueness, second.Findings[0].Category)
	assert.Equal(t, 3, second.Findings[0].RowNumber)
	assert.False(t, second.Creatable)
}

func TestStoreUniquenessUsesOneLookupPerField(t *testing.T) {
	desc := schema.Vehicle()
	var rows []workbook.Row
	vins := []string{"MAT123456789ABCD1", "MAT123456789ABCD2", "MAT123456789ABCD3", "MAT123456789ABCD4"}
	for i, vin := range vins {
		rows = append(rows, vehicleBasic(i+2, "VR00"+string(rune('1'+i)), "MH12AB100"+string(rune('1'+i)), vin))
	}
	store := &stubStore{existing: map[string][]string{"vehicles.vin": {"MAT123456789ABCD3"}}}

	result, err := NewEngine(store, &stubMaster{}, WithWorkers(3)).Validate(context.Background(), desc, draft.Resolve(singleSheet(rows...), desc), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, store.calls["vehicles.vin"])
	assert.Equal(t, 1, store.calls["vehicles.registration_number"])
	assert.ElementsMatch(t, vins, store.asked["vehicles.vin"])

	valid, invalid := result.Counts()
	assert.Equal(t, 3, valid)
	assert.Equal(t, 1, invalid)
	third := result.Outcomes[2]
	require.Len(t, third.Findings, 1)
	assert.Equal(t, domain.CategoryStoreUnique, third.Findings[0].Category)
}

func TestBlockedDraftsSkipStoreLookups(t *testing.T) {
	desc := schema.Vehicle()
	wb := singleSheet(
		vehicleBasic(2, "VR001", "MH12AB1234", "MAT123456789ABCDE"),
		vehicleBasic(3, "VR002", "MH12AB9999", "BAD-VIN"),
	)
	store := &stubStore{}
	_, err := NewEngine(store, &stubMaster{}).Validate(context.Background(), desc, draft.Resolve(wb, desc), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"MH12AB1234"}, store.asked["vehicles.registration_number"])
}

func TestFieldReferentialAndConsistencyFindings(t *testing.T) {
	desc := schema.Vehicle()
	basic := vehicleBasic(2, "VR001", "MH12AB1234", "MAT123456789ABCDE")
	odd := row(schema.SheetBasicInformation, 3, map[string]any{
		"Vehicle_Ref_ID": "VR002", "Registration_Number": "MH12AB4321", "VIN": "MAT123456789ABCDF",
		"Vehicle_Type": "SPACESHIP", "Model": "X", "Manufacturing_Year": 1950,
	})
	wb := singleSheet(
		basic, odd,
		row("Specifications", 2, map[string]any{"Vehicle_Ref_ID": "VR001", "Gross_Vehicle_Weight_KG": 28000, "Unladen_Weight_KG": 9500, "Payload_Capacity_KG": 5000}),
		row("Ownership", 2, map[string]any{"Vehicle_Ref_ID": "VR002", "Owner_Name": "A", "Valid_From": "2025-01-01", "Valid_To": "2024-01-01"}),
		row("Documents", 2, map[string]any{"Vehicle_Ref_ID": "VR002", "Document_Type": "RC", "Document_Number": "D1", "Issue_Date": "01/02/2024"}),
	)
	master := &stubMaster{}

	result, err := NewEngine(&stubStore{}, master).Validate(context.Background(), desc, draft.Resolve(wb, desc), nil)
	require.NoError(t, err)

	first := result.Outcomes[0]
	require.Len(t, first.Findings, 1)
	assert.Equal(t, domain.SeverityMedium, first.Findings[0].Severity)
	assert.Equal(t, domain.CategoryConsistency, first.Findings[0].Category)
	assert.True(t, first.Creatable, "advisory findings do not block creation")

	second := result.Outcomes[1]
	assert.False(t, second.Creatable)
	byField := map[string]domain.Finding{}
	for _, f := range second.Findings {
		byField[f.Sheet+"/"+f.Field] = f
	}
	assert.Equal(t, domain.CategoryReferential, byField["Basic Information/Vehicle_Type"].Category)
	assert.Contains(t, byField["Basic Information/Make"].Message, "required")
	assert.Contains(t, byField["Basic Information/Manufacturing_Year"].Message, "at least 1980")
	assert.Contains(t, byField["Ownership/Valid_From"].Message, "must not be greater than")
	require.NotNil(t, byField["Documents/Issue_Date"].Expected)
	assert.Equal(t, "YYYY-MM-DD", *byField["Documents/Issue_Date"].Expected)

	for collection, calls := range master.calls {
		assert.Equal(t, 1, calls, "master data %s fetched once per batch", collection)
	}
}

func TestValidateSurfacesStoreErrors(t *testing.T) {
	desc := schema.Vehicle()
	wb := singleSheet(vehicleBasic(2, "VR001", "MH12AB1234", "MAT123456789ABCDE"))
	store := &stubStore{err: errors.New("connection refused")}

	_, err := NewEngine(store, &stubMaster{}).Validate(context.Background(), desc, draft.Resolve(wb, desc), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestValidateReportsProgress(t *testing.T) {
	desc := schema.Warehouse()
	var mu sync.Mutex
	seen := map[Stage]int{}
	_, err := NewEngine(&stubStore{}, &stubMaster{}).Validate(context.Background(), desc, draft.Resolve(samplesWorkbook(desc), desc), func(stage Stage, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if done > seen[stage] {
			seen[stage] = done
		}
		assert.Equal(t, 2, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen[StageFields])
	assert.Equal(t, 2, seen[StageRules])
}

func TestNonFiniteNumbersAreRejected(t *testing.T) {
	t.Run("vehicle weights", func(t *testing.T) {
		desc := schema.Vehicle()
		wb := singleSheet(
			vehicleBasic(2, "VR001", "MH12AB1234", "MAT123456789ABCDE"),
			row("Specifications", 2, map[string]any{"Vehicle_Ref_ID": "VR001", "Gross_Vehicle_Weight_KG": "NaN", "Unladen_Weight_KG": "+Infinity"}),
		)
		result, err := NewEngine(&stubStore{}, &stubMaster{}).Validate(context.Background(), desc, draft.Resolve(wb, desc), nil)
		require.NoError(t, err)

		outcome := result.Outcomes[0]
		assert.False(t, outcome.Creatable)
		fields := map[string]domain.Finding{}
		for _, f := range outcome.Findings {
			fields[f.Field] = f
		}
		for _, header := range []string{"Gross_Vehicle_Weight_KG", "Unladen_Weight_KG"} {
			require.Contains(t, fields, header)
			assert.Equal(t, domain.SeverityHigh, fields[header].Severity)
			assert.Contains(t, fields[header].Message, "must be a number")
		}
	})

	t.Run("warehouse latitude", func(t *testing.T) {
		desc := schema.Warehouse()
		desc.Sheets[0].Samples[0]["Latitude"] = "NaN"
		result, err := NewEngine(&stubStore{}, &stubMaster{}).Validate(context.Background(), desc, draft.Resolve(samplesWorkbook(desc), desc), nil)
		require.NoError(t, err)

		var latitude []domain.Finding
		for _, f := range result.Findings() {
			if f.Field == "Latitude" {
				latitude = append(latitude, f)
			}
		}
		require.Len(t, latitude, 1)
		assert.False(t, result.Outcomes[0].Creatable)
	})
}

func TestExistenceLoaderSharesOneDispatchAcrossFields(t *testing.T) {
	store := &stubStore{existing: map[string][]string{
		"vehicles.vin":                 {"MAT123456789ABCD1"},
		"vehicles.registration_number": {"MH12AB1002"},
	}}
	loader := newExistenceLoader(store, 3)
	keys := dataloader.Keys{
		existenceKey{table: "vehicles", column: "vin", value: "MAT123456789ABCD1"},
		existenceKey{table: "vehicles", column: "registration_number", value: "MH12AB1001"},
		existenceKey{table: "vehicles", column: "vin", value: "MAT123456789ABCD2"},
	}
	results, errs := loader.LoadMany(context.Background(), keys)()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, []interface{}{true, false, false}, results)
	assert.Equal(t, 1, store.calls["vehicles.vin"])
	assert.Equal(t, 1, store.calls["vehicles.registration_number"])
	assert.Equal(t, []string{"MAT123456789ABCD1", "MAT123456789ABCD2"}, store.asked["vehicles.vin"])

	again, err := loader.Load(context.Background(), keys[0])()
	require.NoError(t, err)
	assert.Equal(t, true, again)
	assert.Equal(t, 1, store.calls["vehicles.vin"])
}

func TestExistenceLoaderReportsFailingColumn(t *testing.T) {
	store := &stubStore{err: errors.New("connection reset")}
	loader := newExistenceLoader(store, 1)
	_, err := loader.Load(context.Background(), existenceKey{table: "vehicles", column: "vin", value: "X"})()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vehicles.vin")
}
