// Package domain contains the value types shared by the request
// pipeline, the connectivity monitor, the chat channel and the presenter.
package domain
