// Package api exposes the task service over HTTP.
//
//	POST   /v1/tasks                  submit a task (202 with the pending execution)
//	GET    /v1/tasks/:task_id         latest execution of a task
//	DELETE /v1/tasks/:task_id         cancel a running task
//	GET    /v1/executions             list the caller's executions
//	GET    /v1/executions/:id         one execution
//	GET    /v1/executions/:id/steps   its steps in order
//	GET    /v1/balance                the caller's quota balance
package api
