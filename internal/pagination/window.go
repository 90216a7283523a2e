package pagination

// Window 一次分页查询的窗口
type Window struct {
	Page       int   // 修正后的页码，从 1 开始
	Offset     int   // 查询偏移量
	TotalPages int   // 总页数，至少为 1
	PageSize   int   // 每页数量
	Total      int64 // 总记录数
}

// Compute 根据总数、每页数量和请求页码计算分页窗口。
//
// 总页数至少为 1，请求页码会被限制在 [1, 总页数] 范围内。
func Compute(total int64, pageSize, page int) Window {
	if pageSize < 1 {
		pageSize = 1
	}
	if total < 0 {
		total = 0
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}

	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	return Window{
		Page:       page,
		Offset:     (page - 1) * pageSize,
		TotalPages: totalPages,
		PageSize:   pageSize,
		Total:      total,
	}
}
