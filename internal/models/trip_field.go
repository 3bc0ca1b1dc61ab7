package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldKind describes how a trip field is parsed, compared and filtered.
type FieldKind string

const (
	FieldKindText  FieldKind = "text"
	FieldKindMoney FieldKind = "money"
	FieldKindDate  FieldKind = "date"
	FieldKindBool  FieldKind = "bool"
)

// DateLayout is the canonical day format for date fields.
const DateLayout = "2006-01-02"

// FieldValue carries a parsed value for one trip field. Only the member matching
// the field kind is meaningful.
type FieldValue struct {
	Text  string
	Money decimal.Decimal
	Date  *time.Time
	Bool  bool
}

// TripField is one entry of the closed set of trip fields reachable from
// edits, filters and spreadsheets.
type TripField struct {
	Key      string
	Column   string
	Label    string
	Kind     FieldKind
	Editable bool

	get func(*Trip) FieldValue
	set func(*Trip, FieldValue)
}

// Value reads the field from a trip.
func (f TripField) Value(t *Trip) FieldValue {
	return f.get(t)
}

// Assign writes the field onto a trip. Non-editable fields are ignored.
func (f TripField) Assign(t *Trip, v FieldValue) {
	if f.set == nil {
		return
	}
	f.set(t, v)
}

// Canonical renders a value in the comparison form used for diffs and history.
func (f TripField) Canonical(v FieldValue) string {
	switch f.Kind {
	case FieldKindMoney:
		return v.Money.String()
	case FieldKindDate:
		if v.Date == nil {
			return ""
		}
		return v.Date.Format(DateLayout)
	case FieldKindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return strings.TrimSpace(v.Text)
	}
}

func textField(key, column, label string, ptr func(*Trip) *string) TripField {
	return TripField{
		Key: key, Column: column, Label: label, Kind: FieldKindText, Editable: true,
		get: func(t *Trip) FieldValue { return FieldValue{Text: *ptr(t)} },
		set: func(t *Trip, v FieldValue) { *ptr(t) = strings.TrimSpace(v.Text) },
	}
}

func moneyField(key, column, label string, ptr func(*Trip) *decimal.Decimal) TripField {
	return TripField{
		Key: key, Column: column, Label: label, Kind: FieldKindMoney, Editable: true,
		get: func(t *Trip) FieldValue { return FieldValue{Money: *ptr(t)} },
		set: func(t *Trip, v FieldValue) { *ptr(t) = v.Money },
	}
}

func dateField(key, column, label string, ptr func(*Trip) **time.Time) TripField {
	return TripField{
		Key: key, Column: column, Label: label, Kind: FieldKindDate, Editable: true,
		get: func(t *Trip) FieldValue { return FieldValue{Date: *ptr(t)} },
		set: func(t *Trip, v FieldValue) {
			if v.Date == nil {
				*ptr(t) = nil
				return
			}
			d := *v.Date
			*ptr(t) = &d
		},
	}
}

var tripFields = []TripField{
	{
		Key: "maChuyen", Column: "ma_chuyen", Label: "Mã chuyến", Kind: FieldKindText,
		get: func(t *Trip) FieldValue { return FieldValue{Text: t.MaChuyen} },
	},
	{
		Key: "dieuVan", Column: "dieu_van", Label: "Điều vận", Kind: FieldKindText,
		get: func(t *Trip) FieldValue { return FieldValue{Text: t.DieuVan} },
	},
	textField("maKH", "ma_kh", "Mã KH", func(t *Trip) *string { return &t.MaKH }),
	textField("tenKH", "ten_kh", "Tên khách hàng", func(t *Trip) *string { return &t.TenKH }),
	textField("tenLaiXe", "ten_lai_xe", "Tên lái xe", func(t *Trip) *string { return &t.TenLaiXe }),
	textField("bienSoXe", "bien_so_xe", "Biển số xe", func(t *Trip) *string { return &t.BienSoXe }),
	dateField("ngayBocHang", "ngay_boc_hang", "Ngày bốc hàng", func(t *Trip) **time.Time { return &t.NgayBocHang }),
	dateField("ngayGiaoHang", "ngay_giao_hang", "Ngày giao hàng", func(t *Trip) **time.Time { return &t.NgayGiaoHang }),
	textField("diemXepHang", "diem_xep_hang", "Điểm xếp hàng", func(t *Trip) *string { return &t.DiemXepHang }),
	textField("diemDoHang", "diem_do_hang", "Điểm dỡ hàng", func(t *Trip) *string { return &t.DiemDoHang }),
	moneyField("cuocPhi", "cuoc_phi", "Cước phí", func(t *Trip) *decimal.Decimal { return &t.CuocPhi }),
	moneyField("bocXep", "boc_xep", "Bốc xếp", func(t *Trip) *decimal.Decimal { return &t.BocXep }),
	moneyField("ve", "ve", "Vé", func(t *Trip) *decimal.Decimal { return &t.Ve }),
	moneyField("hangVe", "hang_ve", "Hàng về", func(t *Trip) *decimal.Decimal { return &t.HangVe }),
	moneyField("luuCa", "luu_ca", "Lưu ca", func(t *Trip) *decimal.Decimal { return &t.LuuCa }),
	moneyField("luatChiPhiKhac", "luat_chi_phi_khac", "Luật + chi phí khác", func(t *Trip) *decimal.Decimal { return &t.LuatChiPhiKhac }),
	moneyField("cuocPhiBS", "cuoc_phi_bs", "Cước phí BS", func(t *Trip) *decimal.Decimal { return &t.CuocPhiBS }),
	moneyField("bocXepBS", "boc_xep_bs", "Bốc xếp BS", func(t *Trip) *decimal.Decimal { return &t.BocXepBS }),
	moneyField("veBS", "ve_bs", "Vé BS", func(t *Trip) *decimal.Decimal { return &t.VeBS }),
	moneyField("hangVeBS", "hang_ve_bs", "Hàng về BS", func(t *Trip) *decimal.Decimal { return &t.HangVeBS }),
	moneyField("luuCaBS", "luu_ca_bs", "Lưu ca BS", func(t *Trip) *decimal.Decimal { return &t.LuuCaBS }),
	moneyField("cpKhacBS", "cp_khac_bs", "Chi phí khác BS", func(t *Trip) *decimal.Decimal { return &t.ChiPhiKhacBS }),
	textField("ghiChu", "ghi_chu", "Ghi chú", func(t *Trip) *string { return &t.GhiChu }),
	{
		Key: "warning", Column: "warning", Label: "Cảnh báo", Kind: FieldKindBool, Editable: true,
		get: func(t *Trip) FieldValue { return FieldValue{Bool: t.Warning} },
		set: func(t *Trip, v FieldValue) { t.Warning = v.Bool },
	},
}

var tripFieldIndex = func() map[string]TripField {
	idx := make(map[string]TripField, len(tripFields))
	for _, f := range tripFields {
		idx[f.Key] = f
	}
	return idx
}()

// TripFields returns the ordered trip field registry.
func TripFields() []TripField {
	out := make([]TripField, len(tripFields))
	copy(out, tripFields)
	return out
}

// LookupTripField finds a registered field by its JSON key.
func LookupTripField(key string) (TripField, bool) {
	f, ok := tripFieldIndex[key]
	return f, ok
}

// LookupTripFieldByLabel matches a spreadsheet header against keys and labels.
func LookupTripFieldByLabel(header string) (TripField, bool) {
	header = strings.TrimSpace(header)
	if f, ok := tripFieldIndex[header]; ok {
		return f, true
	}
	for _, f := range tripFields {
		if strings.EqualFold(f.Label, header) {
			return f, true
		}
	}
	return TripField{}, false
}
