// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonhttp

import (
	"encoding/json"
	"net/http"

	"resenje.org/web"
)

// methodNotAllowedBody is the body of the response to a request with a
// method that a MethodHandler does not route.
var methodNotAllowedBody = func() string {
	b, err := json.Marshal(&StatusResponse{
		Message: http.StatusText(http.StatusMethodNotAllowed),
		Code:    http.StatusMethodNotAllowed,
	})
	if err != nil {
		panic(err)
	}
	return string(b)
}()

// MethodHandler routes a request to the handler of its method. The Allow
// header of a 405 response lists the routed methods.
type MethodHandler map[string]http.Handler

func (h MethodHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	web.HandleMethods(h, methodNotAllowedBody, DefaultContentTypeHeader, w, r)
}

// NotFoundHandler responds to every request with a 404 StatusResponse.
func NotFoundHandler(w http.ResponseWriter, _ *http.Request) {
	NotFound(w, nil)
}

// NewMaxBodyBytesHandler is an http middleware constructor that responds with
// 413 to requests with a body larger than limit and stops the reads of a
// longer body at limit.
func NewMaxBodyBytesHandler(limit int64) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				RequestEntityTooLarge(w, nil)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			h.ServeHTTP(w, r)
		})
	}
}
