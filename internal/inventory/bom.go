package inventory

// BillOfMaterials maps a procedure type to the materials one scheduled case
// of that type is expected to consume. The forecast multiplies these lines by
// the number of planned procedures in the window.
type BillOfMaterials struct {
	lines map[string][]BOMLine
}

// NewBillOfMaterials builds a BOM from explicit per-procedure lines. The map
// is copied; callers may mutate their input afterwards.
func NewBillOfMaterials(lines map[string][]BOMLine) *BillOfMaterials {
	cp := make(map[string][]BOMLine, len(lines))
	for proc, ls := range lines {
		cp[proc] = append([]BOMLine(nil), ls...)
	}
	return &BillOfMaterials{lines: cp}
}

// DefaultBillOfMaterials returns the standing BOM for the supported procedure
// types. Unknown procedure types simply contribute no demand.
func DefaultBillOfMaterials() *BillOfMaterials {
	return NewBillOfMaterials(map[string][]BOMLine{
		"implant-placement": {
			{SKU: "IMP-TI-4.1", Quantity: 1},
			{SKU: "ABT-STD-01", Quantity: 1},
			{SKU: "MEM-COL-25", Quantity: 1},
		},
		"implant-revision": {
			{SKU: "IMP-TI-4.1", Quantity: 1},
			{SKU: "GRF-BOV-05", Quantity: 2},
			{SKU: "MEM-COL-25", Quantity: 1},
		},
		"sinus-lift": {
			{SKU: "GRF-BOV-05", Quantity: 3},
			{SKU: "MEM-COL-25", Quantity: 2},
		},
		"bone-graft": {
			{SKU: "GRF-BOV-05", Quantity: 2},
			{SKU: "MEM-COL-25", Quantity: 1},
		},
		"prosthesis-fitting": {
			{SKU: "PRO-CRN-ZR", Quantity: 1},
			{SKU: "CEM-RES-01", Quantity: 1},
		},
	})
}

// LinesFor returns the material lines for a procedure type, or nil when the
// type has no standing BOM.
func (b *BillOfMaterials) LinesFor(procedureType string) []BOMLine {
	return b.lines[procedureType]
}

// RequiredFor aggregates material demand across a set of planned procedures
// into a sku -> quantity map.
func (b *BillOfMaterials) RequiredFor(procs []*PlannedProcedure) map[string]int {
	required := make(map[string]int)
	for _, p := range procs {
		for _, line := range b.lines[p.ProcedureType] {
			required[line.SKU] += line.Quantity
		}
	}
	return required
}
