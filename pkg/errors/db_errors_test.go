package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyDBError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyDBError(nil))
}

func TestClassifyDBError_GORMRecordNotFound(t *testing.T) {
	dbErr := ClassifyDBError(gorm.ErrRecordNotFound)

	assert.Equal(t, ErrorTypeNotFound, dbErr.Type)
	assert.Equal(t, "record not found", dbErr.Message)
	assert.True(t, errors.Is(dbErr, gorm.ErrRecordNotFound))
	assert.False(t, dbErr.IsTransient())
}

func TestClassifyDBError_MySQLDeadlock(t *testing.T) {
	mysqlErr := &mysql.MySQLError{
		Number:  1213,
		Message: "Deadlock found when trying to get lock",
	}

	dbErr := ClassifyDBError(mysqlErr)

	assert.Equal(t, ErrorTypeDeadlock, dbErr.Type)
	assert.Equal(t, uint16(1213), dbErr.MySQLErrCode)
	assert.True(t, dbErr.IsTransient())
}

func TestClassifyDBError_MySQLDataTooLong(t *testing.T) {
	mysqlErr := &mysql.MySQLError{
		Number:  1406,
		Message: "Data too long for column 'details'",
	}

	dbErr := ClassifyDBError(mysqlErr)

	assert.Equal(t, ErrorTypeDataTooLong, dbErr.Type)
	assert.False(t, dbErr.IsTransient())
}

func TestClassifyDBError_MySQLInvalidJSON(t *testing.T) {
	for _, code := range []uint16{3140, 3141, 3142, 3143} {
		dbErr := ClassifyDBError(&mysql.MySQLError{Number: code, Message: "bad json"})
		assert.Equal(t, ErrorTypeInvalidJSON, dbErr.Type, "code %d", code)
	}
}

func TestClassifyDBError_MySQLConnectionCodes(t *testing.T) {
	for _, code := range []uint16{2002, 2003, 2006, 2013} {
		dbErr := ClassifyDBError(&mysql.MySQLError{Number: code, Message: "gone"})
		assert.Equal(t, ErrorTypeConnectionError, dbErr.Type, "code %d", code)
		assert.True(t, dbErr.IsTransient())
	}
}

func TestClassifyDBError_ConnectionPatterns(t *testing.T) {
	for _, msg := range []string{
		"dial tcp 127.0.0.1:3306: connection refused",
		"read: connection reset by peer",
		"write: broken pipe",
		"invalid connection",
		"driver: bad connection",
		"read tcp: i/o timeout",
	} {
		dbErr := ClassifyDBError(errors.New(msg))
		assert.Equal(t, ErrorTypeConnectionError, dbErr.Type, "message %q", msg)
		assert.True(t, dbErr.IsTransient())
	}
}

func TestClassifyDBError_Unknown(t *testing.T) {
	dbErr := ClassifyDBError(errors.New("something odd"))

	assert.Equal(t, ErrorTypeUnknown, dbErr.Type)
	assert.False(t, dbErr.IsTransient())
}

func TestDatabaseError_ErrorFormat(t *testing.T) {
	withCode := ClassifyDBError(&mysql.MySQLError{Number: 1213, Message: "deadlock"})
	assert.Contains(t, withCode.Error(), "MySQL error 1213")

	wrapped := fmt.Errorf("create audit log: %w", gorm.ErrRecordNotFound)
	dbErr := ClassifyDBError(wrapped)
	assert.Equal(t, ErrorTypeNotFound, dbErr.Type)
}
