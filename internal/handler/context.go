package handler

type ContextKey string

var (
	MyInfoCtx   ContextKey = "myInfo"
	ListInfoCtx ContextKey = "listInfo"
)
