package domain

// UsageStats 表示一次执行消耗的资源统计。
// 所有字段以字节/条数计，缺省时为零值。
type UsageStats struct {
	// MemoryUsedMB 峰值内存（MB）
	MemoryUsedMB float64 `json:"memory_used_mb"`
	// DatabaseReadBytes 数据库读取字节数
	DatabaseReadBytes int64 `json:"database_read_bytes"`
	// DatabaseWriteBytes 数据库写入字节数
	DatabaseWriteBytes int64 `json:"database_write_bytes"`
	// DatabaseReadDocuments 数据库读取文档数
	DatabaseReadDocuments int64 `json:"database_read_documents"`
	// DatabaseWriteDocuments 数据库写入文档数
	DatabaseWriteDocuments int64 `json:"database_write_documents"`
	// StorageReadBytes 文件存储读取字节数
	StorageReadBytes int64 `json:"storage_read_bytes"`
	// StorageWriteBytes 文件存储写入字节数
	StorageWriteBytes int64 `json:"storage_write_bytes"`
	// VectorIndexReadBytes 向量索引读取字节数
	VectorIndexReadBytes int64 `json:"vector_index_read_bytes"`
	// VectorIndexWriteBytes 向量索引写入字节数
	VectorIndexWriteBytes int64 `json:"vector_index_write_bytes"`
}

// NestedCall 表示一次执行中触发的子调用。
type NestedCall struct {
	// FunctionPath 被调用函数的标识
	FunctionPath string `json:"function_path"`
	// Success 子调用是否成功
	Success bool `json:"success"`
	// DurationMs 子调用耗时（毫秒）
	DurationMs float64 `json:"duration_ms"`
}

// ExecutionDetail 表示一次执行的展开视图，按需懒加载。
// 以 RequestID 为缓存键，仅在用户显式刷新时失效。
type ExecutionDetail struct {
	// ExecutionID 执行的唯一标识
	ExecutionID string `json:"execution_id"`
	// RequestID 与日志条目关联的请求 id
	RequestID string `json:"request_id"`
	// FunctionPath 执行的函数标识
	FunctionPath string `json:"function_path,omitempty"`
	// Usage 资源用量统计
	Usage UsageStats `json:"usage"`
	// IdentityType 调用者身份类型（user / system / anonymous 等）
	IdentityType string `json:"identity_type,omitempty"`
	// Caller 调用来源（HTTP、调度任务、其他函数等）
	Caller string `json:"caller,omitempty"`
	// Environment 执行环境标识
	Environment string `json:"environment,omitempty"`
	// ReturnBytes 返回值大小（字节）
	ReturnBytes int64 `json:"return_bytes"`
	// NestedCalls 按触发顺序排列的子调用序列
	NestedCalls []NestedCall `json:"nested_calls,omitempty"`
}
