package undo

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/xiaoxuxiansheng/gotxrm/metrics"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
)

type arrayConn struct {
	*sql.DB
}

func (a *arrayConn) CreateArrayOf(typeName string, elements []interface{}) (interface{}, error) {
	return "{" + typeName + "}", nil
}

func newUndoLog(sqlType SQLType, meta *sqlstruct.TableMeta, before, after []*sqlstruct.Row) *SQLUndoLog {
	undoLog := SQLUndoLog{
		SQLType:     sqlType,
		TableName:   meta.TableName,
		BeforeImage: sqlstruct.NewTableRecords(meta),
		AfterImage:  sqlstruct.NewTableRecords(meta),
	}
	undoLog.BeforeImage.Rows = before
	undoLog.AfterImage.Rows = after
	return &undoLog
}

func Test_UndoExecutor_Update(t *testing.T) {
	ctx := context.Background()
	selectSQL := regexp.QuoteMeta("SELECT * FROM `t_order` WHERE (`id`) IN ((?)) FOR UPDATE")
	updateSQL := regexp.QuoteMeta("UPDATE `t_order` SET `name` = ?, `amount` = ? WHERE `id` = ?")
	columns := []string{"id", "name", "amount"}

	tests := []struct {
		name   string
		before *sqlstruct.Row
		after  *sqlstruct.Row
		expect func(mock sqlmock.Sqlmock)
		err    error
	}{
		{
			name:   "no change between images",
			before: orderRow(int64(1), "apple", "10.5"),
			after:  orderRow(int64(1), "apple", "10.5"),
			expect: func(mock sqlmock.Sqlmock) {},
		},
		{
			name:   "current equals after image",
			before: orderRow(int64(1), "apple", "10.5"),
			after:  orderRow(int64(1), "banana", "12"),
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectSQL).WithArgs(1).WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "banana", "12.00"))
				prep := mock.ExpectPrepare(updateSQL).WillBeClosed()
				prep.ExpectExec().WithArgs("apple", "10.5", 1).WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:   "already undone",
			before: orderRow(int64(1), "apple", "10.5"),
			after:  orderRow(int64(1), "banana", "12"),
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectSQL).WithArgs(1).WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "apple", "10.5"))
			},
		},
		{
			name:   "dirty",
			before: orderRow(int64(1), "apple", "10.5"),
			after:  orderRow(int64(1), "banana", "12"),
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectSQL).WithArgs(1).WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "cherry", "12"))
			},
			err: rm.ErrDirtyUndo,
		},
		{
			name:   "execute failed",
			before: orderRow(int64(1), "apple", "10.5"),
			after:  orderRow(int64(1), "banana", "12"),
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectSQL).WithArgs(1).WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "banana", "12"))
				prep := mock.ExpectPrepare(updateSQL).WillBeClosed()
				prep.ExpectExec().WithArgs("apple", "10.5", 1).WillReturnError(errors.New("lock wait timeout"))
			},
			err: rm.ErrUndoExecute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Error(err)
				return
			}
			defer db.Close()

			tt.expect(mock)
			executor, err := NewExecutor(rm.DBTypeMySQL, newUndoLog(SQLTypeUpdate, orderMeta(), []*sqlstruct.Row{tt.before}, []*sqlstruct.Row{tt.after}))
			if err != nil {
				t.Error(err)
				return
			}

			err = executor.ExecuteOn(ctx, db)
			if tt.err == nil {
				assert.Nil(t, err)
			} else {
				assert.True(t, errors.Is(err, tt.err), err)
			}
			assert.Nil(t, mock.ExpectationsWereMet())
		})
	}
}

func Test_UndoExecutor_DirtyMetrics(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Error(err)
		return
	}
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM `t_order`").WillReturnRows(sqlmock.NewRows([]string{"id", "name", "amount"}).AddRow(1, "cherry", "1"))
	executor, _ := NewExecutor(rm.DBTypeMySQL, newUndoLog(SQLTypeUpdate, orderMeta(),
		[]*sqlstruct.Row{orderRow(int64(1), "apple", "1")}, []*sqlstruct.Row{orderRow(int64(1), "banana", "1")}))

	dirty := testutil.ToFloat64(metrics.UndoCounter.WithLabelValues(SQLTypeUpdate.String(), metrics.UndoDirty))
	err = executor.ExecuteOn(context.Background(), db)
	assert.True(t, errors.Is(err, rm.ErrDirtyUndo))
	assert.Equal(t, dirty+1, testutil.ToFloat64(metrics.UndoCounter.WithLabelValues(SQLTypeUpdate.String(), metrics.UndoDirty)))
}

func Test_UndoExecutor_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("delete inserted rows in batches", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Error(err)
			return
		}
		defer db.Close()

		columns := []string{"id", "name", "amount"}
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `t_order` WHERE (`id`) IN ((?),(?)) FOR UPDATE")).WithArgs(7, 8).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(8, "plum", "4").AddRow(7, "pear", "3"))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `t_order` WHERE (`id`) IN ((?)) FOR UPDATE")).WithArgs(9).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(9, "fig", "5"))
		prep := mock.ExpectPrepare(regexp.QuoteMeta("DELETE FROM `t_order` WHERE `id` = ?")).WillBeClosed()
		prep.ExpectExec().WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WithArgs(8).WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WithArgs(9).WillReturnResult(sqlmock.NewResult(0, 1))

		executor, _ := NewExecutor(rm.DBTypeMySQL, newUndoLog(SQLTypeInsert, orderMeta(), nil, []*sqlstruct.Row{
			orderRow(int64(7), "pear", "3"),
			orderRow(int64(8), "plum", "4"),
			orderRow(int64(9), "fig", "5"),
		}), WithMaxInSize(2))
		assert.Nil(t, executor.ExecuteOn(ctx, db))
		assert.Nil(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Error(err)
			return
		}
		defer db.Close()

		for _, validation := range []bool{true, false} {
			executor, _ := NewExecutor(rm.DBTypeMySQL, newUndoLog(SQLTypeInsert, orderMeta(), nil, nil), WithDataValidation(validation))
			assert.Nil(t, executor.ExecuteOn(ctx, db))
		}
		assert.Nil(t, mock.ExpectationsWereMet())
	})
}

func Test_UndoExecutor_DeleteCompositeKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Error(err)
		return
	}
	defer db.Close()

	meta := &sqlstruct.TableMeta{
		TableName: "t_item",
		Columns: []*sqlstruct.ColumnMeta{
			{TableName: "t_item", ColumnName: "id", DataType: sqlstruct.TypeInteger},
			{TableName: "t_item", ColumnName: "name", DataType: sqlstruct.TypeVarchar},
			{TableName: "t_item", ColumnName: "order_id", DataType: sqlstruct.TypeBigInt},
		},
		PrimaryKeys: []string{"order_id", "id"},
	}
	// 字段声明顺序与主键定义顺序不同，且大小写不一致
	row := &sqlstruct.Row{Fields: []*sqlstruct.Field{
		sqlstruct.NewField("ID", sqlstruct.KeyTypePrimaryKey, sqlstruct.TypeInteger, int64(1)),
		sqlstruct.NewField("name", sqlstruct.KeyTypeNull, sqlstruct.TypeVarchar, "pen"),
		sqlstruct.NewField("Order_Id", sqlstruct.KeyTypePrimaryKey, sqlstruct.TypeBigInt, int64(100)),
	}}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `t_item` WHERE (`order_id`,`id`) IN ((?,?)) FOR UPDATE")).WithArgs(100, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "order_id"}))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO `t_item` (`name`, `Order_Id`, `ID`) VALUES (?, ?, ?)")).WillBeClosed()
	prep.ExpectExec().WithArgs("pen", 100, 1).WillReturnResult(sqlmock.NewResult(0, 1))

	executor, _ := NewExecutor(rm.DBTypeMySQL, newUndoLog(SQLTypeDelete, meta, []*sqlstruct.Row{row}, nil))
	assert.Nil(t, executor.ExecuteOn(context.Background(), db))
	assert.Nil(t, mock.ExpectationsWereMet())
}

func Test_UndoExecutor_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Error(err)
		return
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "t_order" WHERE ("id") IN (($1)) FOR UPDATE`)).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "amount"}).AddRow(1, "banana", "12"))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`UPDATE "t_order" SET "name" = $1, "amount" = $2 WHERE "id" = $3`)).WillBeClosed()
	prep.ExpectExec().WithArgs("apple", "10.5", 1).WillReturnResult(sqlmock.NewResult(0, 1))

	executor, _ := NewExecutor(rm.DBTypePostgreSQL, newUndoLog(SQLTypeUpdate, orderMeta(),
		[]*sqlstruct.Row{orderRow(int64(1), "apple", "10.5")}, []*sqlstruct.Row{orderRow(int64(1), "banana", "12")}))
	assert.Nil(t, executor.ExecuteOn(context.Background(), db))
	assert.Nil(t, mock.ExpectationsWereMet())
}

func Test_UndoExecutor_Binding(t *testing.T) {
	meta := &sqlstruct.TableMeta{
		TableName: "t_doc",
		Columns: []*sqlstruct.ColumnMeta{
			{TableName: "t_doc", ColumnName: "id", DataType: sqlstruct.TypeBigInt},
			{TableName: "t_doc", ColumnName: "data", DataType: sqlstruct.TypeBlob},
			{TableName: "t_doc", ColumnName: "content", DataType: sqlstruct.TypeClob},
			{TableName: "t_doc", ColumnName: "link", DataType: sqlstruct.TypeDatalink},
			{TableName: "t_doc", ColumnName: "tags", DataType: sqlstruct.TypeArray},
			{TableName: "t_doc", ColumnName: "note", DataType: sqlstruct.TypeBlob},
		},
		PrimaryKeys: []string{"id"},
	}
	docRow := func(content string) *sqlstruct.Row {
		return &sqlstruct.Row{Fields: []*sqlstruct.Field{
			sqlstruct.NewField("id", sqlstruct.KeyTypePrimaryKey, sqlstruct.TypeBigInt, int64(3)),
			sqlstruct.NewField("data", sqlstruct.KeyTypeNull, sqlstruct.TypeBlob, []byte{0x01, 0x02}),
			sqlstruct.NewField("content", sqlstruct.KeyTypeNull, sqlstruct.TypeClob, content),
			sqlstruct.NewField("link", sqlstruct.KeyTypeNull, sqlstruct.TypeDatalink, "http://example.com/doc"),
			sqlstruct.NewField("tags", sqlstruct.KeyTypeNull, sqlstruct.TypeArray, &sqlstruct.SerialArray{BaseTypeName: "varchar", Elements: []interface{}{"a", "b"}}),
			sqlstruct.NewField("note", sqlstruct.KeyTypeNull, sqlstruct.TypeBlob, nil),
		}}
	}
	undoLog := newUndoLog(SQLTypeUpdate, meta, []*sqlstruct.Row{docRow("hello")}, []*sqlstruct.Row{docRow("world")})
	updateSQL := regexp.QuoteMeta("UPDATE `t_doc` SET `data` = ?, `content` = ?, `link` = ?, `tags` = ?, `note` = ? WHERE `id` = ?")

	t.Run("rebuild array on target connection", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Error(err)
			return
		}
		defer db.Close()

		prep := mock.ExpectPrepare(updateSQL).WillBeClosed()
		prep.ExpectExec().WithArgs([]byte{0x01, 0x02}, "hello", "http://example.com/doc", "{varchar}", nil, 3).WillReturnResult(sqlmock.NewResult(0, 1))

		executor, _ := NewExecutor(rm.DBTypeMySQL, undoLog, WithDataValidation(false))
		assert.Nil(t, executor.ExecuteOn(context.Background(), &arrayConn{DB: db}))
		assert.Nil(t, mock.ExpectationsWereMet())
	})

	t.Run("connection without array support", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Error(err)
			return
		}
		defer db.Close()

		mock.ExpectPrepare(updateSQL).WillBeClosed()
		executor, _ := NewExecutor(rm.DBTypeMySQL, undoLog, WithDataValidation(false))
		err = executor.ExecuteOn(context.Background(), db)
		assert.True(t, errors.Is(err, rm.ErrUndoExecute))
		assert.Nil(t, mock.ExpectationsWereMet())
	})
}

func Test_NewExecutor(t *testing.T) {
	_, err := NewExecutor(rm.DBTypeMySQL, &SQLUndoLog{SQLType: "SELECT"})
	assert.Error(t, err)

	_, err = NewExecutor(rm.DBTypeOracle, &SQLUndoLog{SQLType: SQLTypeInsert})
	assert.Error(t, err)

	_, err = NewExecutor(rm.DBTypeMySQL, nil)
	assert.Error(t, err)
}

// 文本协议下驱动返回 []byte，镜像经过序列化后仍需还原为原值
func Test_UndoExecutor_DriverBytesImage(t *testing.T) {
	ctx := context.Background()
	columns := []string{"id", "name", "amount"}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Error(err)
		return
	}
	defer db.Close()

	buildImage := func(name, amount string) *sqlstruct.TableRecords {
		mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(columns).AddRow([]byte("1"), []byte(name), []byte(amount)))
		rows, err := db.QueryContext(ctx, "SELECT * FROM t_order")
		if err != nil {
			t.Fatal(err)
		}
		defer rows.Close()
		records, err := sqlstruct.BuildRecords(orderMeta(), rows)
		if err != nil {
			t.Fatal(err)
		}
		return records
	}

	undoLog := SQLUndoLog{
		SQLType:     SQLTypeUpdate,
		TableName:   "t_order",
		BeforeImage: buildImage("apple", "10.50"),
		AfterImage:  buildImage("banana", "12.00"),
	}

	parser := &JSONParser{}
	body, err := parser.Encode(&BranchUndoLog{XID: "tx-1", BranchID: 1, SQLUndoLogs: []*SQLUndoLog{&undoLog}})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Contains(t, string(body), `"value":"apple"`)
	assert.NotContains(t, string(body), "YXBwbGU=")

	branchUndoLog, err := parser.Decode(body)
	if err != nil {
		t.Error(err)
		return
	}
	decoded := branchUndoLog.SQLUndoLogs[0]
	decoded.SetTableMeta(orderMeta())
	assert.Equal(t, orderRow(int64(1), "apple", "10.50"), decoded.BeforeImage.Rows[0])
	assert.Equal(t, orderRow(int64(1), "banana", "12.00"), decoded.AfterImage.Rows[0])

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `t_order` WHERE (`id`) IN ((?)) FOR UPDATE")).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(columns).AddRow([]byte("1"), []byte("banana"), []byte("12.00")))
	mock.ExpectPrepare(regexp.QuoteMeta("UPDATE `t_order` SET `name` = ?, `amount` = ? WHERE `id` = ?")).WillBeClosed().
		ExpectExec().WithArgs("apple", "10.50", 1).WillReturnResult(sqlmock.NewResult(0, 1))

	executor, err := NewExecutor(rm.DBTypeMySQL, decoded)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Nil(t, executor.ExecuteOn(ctx, db))
	assert.Nil(t, mock.ExpectationsWereMet())
}

func Test_SQLUndoLog_SetTableMeta(t *testing.T) {
	undoLog := SQLUndoLog{
		SQLType:     SQLTypeUpdate,
		TableName:   "`demo`.`t_order`",
		BeforeImage: &sqlstruct.TableRecords{TableName: "`demo`.`t_order`", Rows: []*sqlstruct.Row{orderRow(int64(1), "apple", "10.5")}},
		AfterImage:  &sqlstruct.TableRecords{TableName: "`demo`.`t_order`", Rows: []*sqlstruct.Row{orderRow(int64(1), "banana", "12")}},
	}
	undoLog.SetTableMeta(orderMeta())

	assert.Equal(t, "t_order", undoLog.BeforeImage.TableName)
	assert.Equal(t, "t_order", undoLog.AfterImage.TableName)
	assert.NotNil(t, undoLog.AfterImage.TableMeta)

	current := orderRecords(orderRow(int64(1), "banana", "12"))
	assert.True(t, IsRecordsEquals(undoLog.AfterImage, current).Equal)
}
