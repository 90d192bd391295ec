package sqlstruct

// 数组类型的值快照，回滚时需要在目标连接上重新构造
type SerialArray struct {
	BaseTypeName string        `json:"baseTypeName"`
	Elements     []interface{} `json:"elements"`
}
