// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libsokonicore.so (Android) / sokonicore.framework (iOS).
// All exported functions use C calling convention and can be called from Dart FFI.

package main

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/sokoniapp/sokoni-core/internal/cache"
	"github.com/sokoniapp/sokoni-core/internal/connectivity"
	"github.com/sokoniapp/sokoni-core/internal/db"
	"github.com/sokoniapp/sokoni-core/internal/events"
	"github.com/sokoniapp/sokoni-core/internal/models"
	"github.com/sokoniapp/sokoni-core/internal/netprobe"
	"github.com/sokoniapp/sokoni-core/internal/queue"
)

var (
	once     sync.Once
	database *db.DB
	repo     *db.Repository
	monitor  *connectivity.Monitor
	hub      *events.Hub
	outbound *queue.OutboundQueue
	store    *cache.DurableCache
	sampler  *netprobe.Sampler
	lastErr  string
	lastMu   sync.RWMutex
)

//export Init
// Init initializes the Sokoni core over the given data directory. Messages
// queued through this bridge drain into the given ingestion endpoint.
// Returns 0 on success, non-zero on error.
func Init(dataDir, endpoint, probeURL *C.char) int32 {
	ok := int32(1)
	once.Do(func() {
		var err error
		database, err = db.Open(C.GoString(dataDir))
		if err != nil {
			setLastError(fmt.Sprintf("Failed to open database: %v", err))
			return
		}

		migrator := db.NewMigrator(database.DB)
		if err := migrator.Initialize(); err != nil {
			setLastError(fmt.Sprintf("Failed to initialize migrator: %v", err))
			return
		}
		if err := migrator.Up(); err != nil {
			setLastError(fmt.Sprintf("Failed to apply migrations: %v", err))
			return
		}

		repo = db.NewRepository(database.DB)
		hub = events.NewHub()
		// The host app feeds connectivity through SetOnline; assume offline
		// until it does.
		monitor = connectivity.NewMonitor(false)

		transport := queue.NewHTTPTransport(C.GoString(endpoint), 30*time.Second)
		outbound = queue.New(repo, transport, monitor, hub, queue.Config{AutoSync: true})
		store = cache.New(repo)
		sampler = netprobe.New(monitor, hub, netprobe.Config{ProbeURL: C.GoString(probeURL)})

		ok = 0
	})
	return ok
}

//export Shutdown
// Shutdown releases the core's resources.
func Shutdown() {
	if sampler != nil {
		sampler.Stop()
	}
	if outbound != nil {
		outbound.Close()
	}
	if store != nil {
		store.Close()
	}
	if repo != nil {
		repo.Close()
	}
	if database != nil {
		database.Close()
	}
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	lastMu.RLock()
	defer lastMu.RUnlock()

	return C.CString(lastErr)
}

func setLastError(err string) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = err
}

func marshal(v interface{}) *C.char {
	data, err := json.Marshal(v)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to serialize: %v", err))
		return nil
	}
	return C.CString(string(data))
}

// =====================================================
// Connectivity
// =====================================================

//export SetOnline
// SetOnline reports the host platform's connectivity state. A transition
// from offline to online triggers an automatic queue drain.
func SetOnline(online int32) {
	if monitor != nil {
		monitor.SetOnline(online != 0)
	}
}

// =====================================================
// Outbound Queue Operations
// =====================================================

//export QueueMessage
// QueueMessage enqueues an outbound message. The message is durably stored
// before this function returns; delivery happens in the background.
// Returns JSON string that must be freed by the caller.
func QueueMessage(conversationID, senderID, recipientID, text, language *C.char, audio unsafe.Pointer, audioLen int32) *C.char {
	if outbound == nil {
		setLastError("Core not initialized")
		return nil
	}

	var audioPayload []byte
	if audio != nil && audioLen > 0 {
		audioPayload = C.GoBytes(audio, C.int(audioLen))
	}

	msg, err := outbound.Enqueue(queue.EnqueueInput{
		ConversationID:  C.GoString(conversationID),
		SenderID:        C.GoString(senderID),
		RecipientID:     C.GoString(recipientID),
		PayloadText:     C.GoString(text),
		PayloadLanguage: C.GoString(language),
		AudioPayload:    audioPayload,
	})
	if err != nil {
		setLastError(fmt.Sprintf("Failed to queue message: %v", err))
		return nil
	}

	return marshal(msg)
}

//export DrainQueue
// DrainQueue attempts delivery of every pending message in order.
// Returns JSON array of per-message results that must be freed by the caller.
func DrainQueue() *C.char {
	if outbound == nil {
		setLastError("Core not initialized")
		return nil
	}

	results, err := outbound.DrainAll(context.Background())
	if err != nil {
		setLastError(fmt.Sprintf("Drain failed: %v", err))
		return nil
	}

	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		entry := map[string]interface{}{
			"id":      r.ID,
			"success": r.Success,
		}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		out = append(out, entry)
	}
	return marshal(map[string]interface{}{"results": out, "total": len(out)})
}

//export RetryFailedMessages
// RetryFailedMessages gives exhausted messages a fresh retry budget and drains.
// Returns JSON array of per-message results that must be freed by the caller.
func RetryFailedMessages() *C.char {
	if outbound == nil {
		setLastError("Core not initialized")
		return nil
	}

	results, err := outbound.RetryFailed(context.Background())
	if err != nil {
		setLastError(fmt.Sprintf("Retry failed: %v", err))
		return nil
	}
	return marshal(map[string]interface{}{"total": len(results)})
}

//export QueueStats
// QueueStats returns per-status queue counts.
// Returns JSON string that must be freed by the caller.
func QueueStats() *C.char {
	if outbound == nil {
		setLastError("Core not initialized")
		return nil
	}

	stats, err := outbound.GetStats()
	if err != nil {
		setLastError(fmt.Sprintf("Failed to get stats: %v", err))
		return nil
	}
	return marshal(stats)
}

//export QueueDelete
// QueueDelete removes one queued message without delivering it.
// Returns 0 on success, non-zero on error.
func QueueDelete(id *C.char) int32 {
	if outbound == nil {
		setLastError("Core not initialized")
		return 1
	}

	if err := outbound.Delete(C.GoString(id)); err != nil {
		setLastError(fmt.Sprintf("Failed to delete message: %v", err))
		return 1
	}
	return 0
}

// =====================================================
// Cache Operations
// =====================================================

//export CachePriceQuote
// CachePriceQuote stores a quote for a commodity with a fresh 24h expiry.
// Returns 0 on success, non-zero on error.
func CachePriceQuote(commodity *C.char, pricePerUnit float64, unit, currency, marketName *C.char) int32 {
	if store == nil {
		setLastError("Core not initialized")
		return 1
	}

	q := &models.PriceQuote{
		Commodity:    C.GoString(commodity),
		PricePerUnit: pricePerUnit,
		Unit:         C.GoString(unit),
		Currency:     C.GoString(currency),
		MarketName:   C.GoString(marketName),
	}
	if err := store.WritePriceQuote(q); err != nil {
		setLastError(fmt.Sprintf("Failed to cache quote: %v", err))
		return 1
	}
	return 0
}

//export GetPriceQuote
// GetPriceQuote returns the cached quote for a commodity; expired quotes
// read as misses.
// Returns JSON string that must be freed by the caller.
func GetPriceQuote(commodity *C.char) *C.char {
	if store == nil {
		setLastError("Core not initialized")
		return nil
	}

	q, err := store.ReadPriceQuote(C.GoString(commodity))
	if err != nil {
		setLastError(fmt.Sprintf("Quote unavailable: %v", err))
		return nil
	}
	return marshal(q)
}

//export GetPhraseTemplates
// GetPhraseTemplates returns all phrase templates in a language.
// Returns JSON array that must be freed by the caller.
func GetPhraseTemplates(language *C.char) *C.char {
	if store == nil {
		setLastError("Core not initialized")
		return nil
	}

	templates, err := store.ReadPhraseTemplatesByLanguage(C.GoString(language))
	if err != nil {
		setLastError(fmt.Sprintf("Failed to list templates: %v", err))
		return nil
	}
	return marshal(map[string]interface{}{"templates": templates, "total": len(templates)})
}

//export GetRecentTransactions
// GetRecentTransactions returns a user's most recent transactions, either
// side of the trade, newest first.
// Returns JSON array that must be freed by the caller.
func GetRecentTransactions(userID *C.char, limit int32) *C.char {
	if store == nil {
		setLastError("Core not initialized")
		return nil
	}

	txs, err := store.ReadRecentTransactions(C.GoString(userID), int(limit))
	if err != nil {
		setLastError(fmt.Sprintf("Failed to list transactions: %v", err))
		return nil
	}
	return marshal(map[string]interface{}{"transactions": txs, "total": len(txs)})
}

//export GetUserSettings
// GetUserSettings returns a user's settings.
// Returns JSON string that must be freed by the caller.
func GetUserSettings(userID *C.char) *C.char {
	if store == nil {
		setLastError("Core not initialized")
		return nil
	}

	s, err := store.ReadUserSettings(C.GoString(userID))
	if err != nil {
		setLastError(fmt.Sprintf("Settings unavailable: %v", err))
		return nil
	}
	return marshal(s)
}

//export PatchUserSettings
// PatchUserSettings applies a partial settings update from a JSON patch
// document. Missing records are an error, not an upsert.
// Returns JSON string that must be freed by the caller.
func PatchUserSettings(userID, patchJSON *C.char) *C.char {
	if store == nil {
		setLastError("Core not initialized")
		return nil
	}

	var patch models.UserSettingsPatch
	if err := json.Unmarshal([]byte(C.GoString(patchJSON)), &patch); err != nil {
		setLastError(fmt.Sprintf("Invalid patch: %v", err))
		return nil
	}

	s, err := store.PatchUserSettings(C.GoString(userID), patch)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to patch settings: %v", err))
		return nil
	}
	return marshal(s)
}

// =====================================================
// Network Sampling Operations
// =====================================================

//export MeasureNetwork
// MeasureNetwork performs one speed measurement. It never fails: offline
// devices yield a zero-speed sentinel, failed probes a conservative estimate.
// Returns JSON string that must be freed by the caller.
func MeasureNetwork() *C.char {
	if sampler == nil {
		setLastError("Core not initialized")
		return nil
	}

	m := sampler.MeasureOnce(context.Background())
	return marshal(map[string]interface{}{
		"speed_kbps": m.SpeedKbps,
		"latency_ms": m.WireLatencyMs(),
		"quality":    string(sampler.ClassifyQuality()),
		"text_only":  sampler.ShouldUseTextOnlyMode(),
	})
}

//export StartNetworkSampling
// StartNetworkSampling begins periodic background measurement.
func StartNetworkSampling() {
	if sampler != nil {
		sampler.Start(context.Background())
	}
}

//export StopNetworkSampling
// StopNetworkSampling halts periodic measurement.
func StopNetworkSampling() {
	if sampler != nil {
		sampler.Stop()
	}
}

// =====================================================
// Memory Management Helpers
// =====================================================

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func main() {
	// Main entry point for shared library
	// Not used when loaded as library
}
