package models

import "errors"

var (
	ErrRedisConnection = errors.New("redis connection error")
	ErrRedisGet        = errors.New("redis get error")
	ErrRedisSet        = errors.New("redis set error")
	ErrRedisSubscribe  = errors.New("redis subscribe error")
)

var (
	ErrMissingIdentity  = errors.New("connection is missing id or role")
	ErrInvalidIdentity  = errors.New("connection identity is invalid")
	ErrIdentityNotFound = errors.New("identity not found")
)

var (
	ErrMalformedNotification = errors.New("malformed notification payload")
	ErrUnknownNotification   = errors.New("unknown notification type")
)

var (
	ErrSnapshotWrite = errors.New("presence snapshot write error")
	ErrSnapshotRead  = errors.New("presence snapshot read error")
)

var (
	ErrDatabaseConnection = errors.New("database connection error")
	ErrDatabaseInsert     = errors.New("database insert error")
	ErrDatabaseQuery      = errors.New("database query error")
)
