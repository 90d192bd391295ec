package undo

import (
	"encoding/json"
	"net/url"

	"github.com/pkg/errors"
)

const (
	contextSerializer = "serializer"

	SerializerJSON = "json"
)

// 回滚日志的序列化方式
type Parser interface {
	Name() string
	Encode(branchUndoLog *BranchUndoLog) ([]byte, error)
	Decode(data []byte) (*BranchUndoLog, error)
}

var parsers = map[string]Parser{
	SerializerJSON: &JSONParser{},
}

// 根据 undo_log.context 中记录的序列化方式获取解析器，缺省为 json
func ParserOf(logContext string) (Parser, error) {
	values, err := url.ParseQuery(logContext)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid undo log context: %s", logContext)
	}

	name := values.Get(contextSerializer)
	if name == "" {
		name = SerializerJSON
	}
	parser, ok := parsers[name]
	if !ok {
		return nil, errors.Errorf("unsupported undo log serializer: %s", name)
	}
	return parser, nil
}

func encodeContext(parser Parser) string {
	values := url.Values{}
	values.Set(contextSerializer, parser.Name())
	return values.Encode()
}

type JSONParser struct{}

func (j *JSONParser) Name() string {
	return SerializerJSON
}

func (j *JSONParser) Encode(branchUndoLog *BranchUndoLog) ([]byte, error) {
	body, err := json.Marshal(branchUndoLog)
	return body, errors.WithStack(err)
}

func (j *JSONParser) Decode(data []byte) (*BranchUndoLog, error) {
	var branchUndoLog BranchUndoLog
	if err := json.Unmarshal(data, &branchUndoLog); err != nil {
		return nil, errors.Wrap(err, "decode branch undo log")
	}
	return &branchUndoLog, nil
}
