// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

package mtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtproto_session_messages_pushed_total",
		Help: "Number of request bodies staged for sending",
	})
	framesFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtproto_session_frames_finalized_total",
		Help: "Number of encrypted frames produced",
	})
	containersPacked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtproto_session_containers_packed_total",
		Help: "Number of finalized frames that wrapped multiple messages in a container",
	})
	serviceMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtproto_session_messages_dispatched_total",
		Help: "Number of inbound messages dispatched, by constructor",
	}, []string{"constructor"})
	rpcErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtproto_session_rpc_errors_total",
		Help: "Number of rpc_error replies received",
	})
	updatesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtproto_session_updates_total",
		Help: "Number of update payloads queued for the caller",
	})
	saltResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtproto_session_salt_resets_total",
		Help: "Number of times the salt store was reset by a server notification",
	})
)
