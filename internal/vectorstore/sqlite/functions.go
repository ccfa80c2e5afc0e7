package sqlite

import (
	"database/sql/driver"
	"fmt"
	"sync"

	msqlite "modernc.org/sqlite"

	"smsrag/internal/vectorstore"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions makes vec_l2sq(a, b) available on connections opened
// afterwards. Registration is process-wide.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = msqlite.RegisterDeterministicScalarFunction("vec_l2sq", 2, vecL2SqImpl)
	})
	return registerErr
}

func asEmbedding(arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeEmbedding(v)
	default:
		return nil, fmt.Errorf("vec_l2sq: unsupported argument type %T for embedding; want BLOB", arg)
	}
}

func vecL2SqImpl(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_l2sq: expected 2 arguments, got %d", len(args))
	}
	a, err := asEmbedding(args[0])
	if err != nil {
		return nil, err
	}
	b, err := asEmbedding(args[1])
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	d, err := vectorstore.SquaredL2(a, b)
	if err != nil {
		return nil, err
	}
	return d, nil
}
