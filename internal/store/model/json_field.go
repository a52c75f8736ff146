package model

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// JSONField wraps an arbitrary value so gorm stores it as a JSON column.
type JSONField[T any] struct {
	Data T
}

func MakeJSONField[T any](data T) *JSONField[T] {
	return &JSONField[T]{Data: data}
}

func (j *JSONField[T]) Scan(value any) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	return json.Unmarshal(bytes, &j.Data)
}

func (j JSONField[T]) Value() (driver.Value, error) {
	return json.Marshal(j.Data)
}

func (j JSONField[T]) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "jsonb"
	default:
		return "json"
	}
}

func (j JSONField[T]) GormValue(ctx context.Context, db *gorm.DB) clause.Expr {
	data, err := json.Marshal(j.Data)
	if err != nil {
		_ = db.AddError(errors.New("failed to marshal JSON field of type " + reflect.TypeOf(j.Data).String()))
		return gorm.Expr("?", "null")
	}
	return gorm.Expr("?", string(data))
}
