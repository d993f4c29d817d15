package core

import (
	"context"
	"sync"

	"github.com/oceanbase/agentmem-go/pkg/memory"
	"github.com/oceanbase/agentmem-go/pkg/reflection"
)

// AsyncClient provides asynchronous agentmem operations.
//
// It wraps the synchronous Client and executes each operation in its own
// goroutine, returning a channel that receives exactly one result. The
// client tracks all goroutines and provides Wait() to ensure all operations
// finish.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	result := <-asyncClient.RecordAsync(ctx, "Ana beat Bruno at chess")
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous agentmem client.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{
		Client: client,
	}, nil
}

// MemoryResult contains the result of a Record operation.
type MemoryResult struct {
	// Memory is the recorded memory (nil if error occurred).
	Memory *memory.Entry

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// RetrieveResult contains the result of an asynchronous Retrieve operation.
type RetrieveResult struct {
	// Memories is the ranked window.
	Memories []*memory.Entry

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// ReflectionResult contains the result of an asynchronous reflection.
type ReflectionResult struct {
	// Report describes the run (nil if error occurred).
	Report *reflection.Report

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// RecordAsync records an observation asynchronously.
func (ac *AsyncClient) RecordAsync(ctx context.Context, description string) <-chan *MemoryResult {
	resultChan := make(chan *MemoryResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		entry, err := ac.Record(ctx, description)
		resultChan <- &MemoryResult{
			Memory: entry,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// RetrieveAsync ranks the recent window against query asynchronously.
func (ac *AsyncClient) RetrieveAsync(ctx context.Context, query string, opts ...RetrieveOption) <-chan *RetrieveResult {
	resultChan := make(chan *RetrieveResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		memories, err := ac.Retrieve(ctx, query, opts...)
		resultChan <- &RetrieveResult{
			Memories: memories,
			Error:    err,
		}
		close(resultChan)
	}()

	return resultChan
}

// GenerateReflectionsAsync runs a reflection cycle asynchronously. A second
// call while one is running resolves with ErrReflectionInProgress.
func (ac *AsyncClient) GenerateReflectionsAsync(ctx context.Context) <-chan *ReflectionResult {
	resultChan := make(chan *ReflectionResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		report, err := ac.GenerateReflections(ctx)
		resultChan <- &ReflectionResult{
			Report: report,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// Wait waits for all asynchronous operations to complete.
//
// This method blocks until all goroutines started by async methods have finished.
// It should be called before program exit to ensure all operations complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close closes the asynchronous client.
//
// It first waits for all asynchronous operations to complete, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}
