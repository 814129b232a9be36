package importer

import "strings"

// Field is a logical column of an import file.
type Field string

const (
	FieldPhone       Field = "phone"
	FieldName        Field = "name"
	FieldChannel     Field = "channel"
	FieldPoints      Field = "points"
	FieldAmount      Field = "amount"
	FieldDate        Field = "date"
	FieldNotes       Field = "notes"
	FieldOperator    Field = "operator"
	FieldStore       Field = "store"
	FieldProductCode Field = "product_code"
	FieldSize        Field = "size"
	FieldQuantity    Field = "quantity"
)

// Aliases lists, per logical field, the header texts accepted for it. Order matters:
// the first alias present in a row wins. Matching is case-sensitive.
var Aliases = map[Field][]string{
	FieldPhone:       {"手机号", "手机号码", "手机", "电话", "电话号码", "联系电话", "会员手机", "phone", "Phone", "mobile", "Mobile", "tel", "Tel"},
	FieldName:        {"客户姓名", "姓名", "客户名称", "会员姓名", "客户", "名字", "name", "Name", "customer", "Customer", "customer_name"},
	FieldChannel:     {"渠道", "积分类型", "变动类型", "操作类型", "类型", "channel", "Channel", "type", "Type"},
	FieldPoints:      {"积分", "积分变动", "变动积分", "积分数量", "分值", "points", "Points", "point"},
	FieldAmount:      {"金额", "消费金额", "实付金额", "总金额", "销售金额", "应付金额", "amount", "Amount", "total", "Total"},
	FieldDate:        {"日期", "消费日期", "交易日期", "积分日期", "销售日期", "时间", "date", "Date", "sale_date"},
	FieldNotes:       {"备注", "说明", "描述", "notes", "Notes", "remark", "Remark", "note"},
	FieldOperator:    {"操作人", "经办人", "店员", "导购", "员工", "operator", "Operator", "staff", "Staff"},
	FieldStore:       {"门店", "店铺", "门店名称", "store", "Store", "shop"},
	FieldProductCode: {"货号", "商品编码", "款号", "产品编码", "product_code", "sku", "SKU", "code"},
	FieldSize:        {"尺码", "规格", "尺寸", "size", "Size"},
	FieldQuantity:    {"数量", "件数", "quantity", "Quantity", "qty", "Qty"},
}

// KindFields lists the fields each import kind reads, in template column order.
var KindFields = map[Kind][]Field{
	KindLedger: {FieldPhone, FieldName, FieldChannel, FieldPoints, FieldDate, FieldNotes, FieldOperator},
	KindSales:  {FieldPhone, FieldName, FieldDate, FieldAmount, FieldProductCode, FieldSize, FieldQuantity, FieldStore, FieldOperator, FieldNotes},
}

// Row is one raw data row keyed by header text.
type Row struct {
	Number int
	Values map[string]string
}

// Lookup resolves a logical field against the row through the alias table. ok is false
// when no alias of the field is a column of the row.
func (r Row) Lookup(field Field) (value string, ok bool) {
	for _, alias := range Aliases[field] {
		if v, present := r.Values[alias]; present {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Get is Lookup without the presence flag.
func (r Row) Get(field Field) string {
	v, _ := r.Lookup(field)
	return v
}

// MatchedHeaders returns, for each field, the header that will be read from files with
// the given header row. Unmatched headers are ignored by the normalizer.
func MatchedHeaders(headers []string) map[Field]string {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}
	matched := map[Field]string{}
	for field, aliases := range Aliases {
		for _, alias := range aliases {
			if _, ok := present[alias]; ok {
				matched[field] = alias
				break
			}
		}
	}
	return matched
}

var templateSamples = map[Kind]map[Field]string{
	KindLedger: {
		FieldPhone: "13800138000", FieldName: "张三", FieldChannel: "获得", FieldPoints: "50",
		FieldDate: "2024-01-05", FieldNotes: "开卡赠送", FieldOperator: "李店长",
	},
	KindSales: {
		FieldPhone: "13800138000", FieldName: "张三", FieldDate: "2024-01-05", FieldAmount: "299.00",
		FieldProductCode: "A1024", FieldSize: "M", FieldQuantity: "1", FieldStore: "南京路店",
		FieldOperator: "李店长", FieldNotes: "",
	},
}

// TemplateCSV renders a sample file using the first alias of every field of kind.
func TemplateCSV(kind Kind) (string, bool) {
	fields, ok := KindFields[kind]
	if !ok {
		return "", false
	}
	headers := make([]string, 0, len(fields))
	sample := make([]string, 0, len(fields))
	for _, f := range fields {
		headers = append(headers, Aliases[f][0])
		sample = append(sample, templateSamples[kind][f])
	}
	return strings.Join(headers, ",") + "\n" + strings.Join(sample, ",") + "\n", true
}
