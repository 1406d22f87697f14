package service

import "github.com/vanetlab/apsteer/internal/util/workerpool"

// Executor runs switch command tasks. Tasks with the same key must run in
// submission order.
type Executor interface {
	Submit(task workerpool.Task) error
}
