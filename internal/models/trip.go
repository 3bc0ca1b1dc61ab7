package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trip is a single transport job ("chuyến") with its fee ledger.
type Trip struct {
	ID       string `db:"id" json:"id"`
	MaChuyen string `db:"ma_chuyen" json:"maChuyen"`

	MaKH      string `db:"ma_kh" json:"maKH"`
	TenKH     string `db:"ten_kh" json:"tenKH"`
	DieuVanID string `db:"dieu_van_id" json:"dieuVanID"`
	DieuVan   string `db:"dieu_van" json:"dieuVan"`
	TenLaiXe  string `db:"ten_lai_xe" json:"tenLaiXe"`
	BienSoXe  string `db:"bien_so_xe" json:"bienSoXe"`

	NgayBocHang  *time.Time `db:"ngay_boc_hang" json:"ngayBocHang"`
	NgayGiaoHang *time.Time `db:"ngay_giao_hang" json:"ngayGiaoHang"`
	DiemXepHang  string     `db:"diem_xep_hang" json:"diemXepHang"`
	DiemDoHang   string     `db:"diem_do_hang" json:"diemDoHang"`

	CuocPhi        decimal.Decimal `db:"cuoc_phi" json:"cuocPhi"`
	BocXep         decimal.Decimal `db:"boc_xep" json:"bocXep"`
	Ve             decimal.Decimal `db:"ve" json:"ve"`
	HangVe         decimal.Decimal `db:"hang_ve" json:"hangVe"`
	LuuCa          decimal.Decimal `db:"luu_ca" json:"luuCa"`
	LuatChiPhiKhac decimal.Decimal `db:"luat_chi_phi_khac" json:"luatChiPhiKhac"`

	CuocPhiBS    decimal.Decimal `db:"cuoc_phi_bs" json:"cuocPhiBS"`
	BocXepBS     decimal.Decimal `db:"boc_xep_bs" json:"bocXepBS"`
	VeBS         decimal.Decimal `db:"ve_bs" json:"veBS"`
	HangVeBS     decimal.Decimal `db:"hang_ve_bs" json:"hangVeBS"`
	LuuCaBS      decimal.Decimal `db:"luu_ca_bs" json:"luuCaBS"`
	ChiPhiKhacBS decimal.Decimal `db:"cp_khac_bs" json:"cpKhacBS"`

	GhiChu  string `db:"ghi_chu" json:"ghiChu"`
	Warning bool   `db:"warning" json:"warning"`

	IsDeleted bool       `db:"is_deleted" json:"isDeleted"`
	DeletedAt *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy *string    `db:"deleted_by" json:"deletedBy,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

// TotalFees sums base and supplemental fees.
func (t *Trip) TotalFees() decimal.Decimal {
	return decimal.Sum(t.CuocPhi, t.BocXep, t.Ve, t.HangVe, t.LuuCa, t.LuatChiPhiKhac,
		t.CuocPhiBS, t.BocXepBS, t.VeBS, t.HangVeBS, t.LuuCaBS, t.ChiPhiKhacBS)
}

// TripFilter constrains trip listings. Fields holds per-field filter values keyed by
// the JSON field name; several values for one field are OR-ed.
type TripFilter struct {
	Fields    map[string][]string
	DieuVanID string
	Deleted   bool
	Page      int
	Limit     int
}
