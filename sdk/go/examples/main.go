// Command examples calls a running bankmcpd instance with the Go SDK.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"OpenMCP-Bank/sdk/go/bankmcp"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "bankmcpd base url")
	profile := flag.String("profile", "u1", "profile id sent in X-Profile-ID")
	message := flag.String("message", "What is my balance?", "chat message")
	flag.Parse()

	if err := run(*addr, *profile, *message); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr, profile, message string) error {
	client, err := bankmcp.NewClient(addr, nil)
	if err != nil {
		return err
	}
	client.SetProfileID(profile)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	tools, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	for _, tool := range tools {
		fmt.Printf("tool %-28s %s\n", tool.Name, tool.Description)
	}

	balance, err := client.CallTool(ctx, "get_balance", nil)
	if err != nil {
		return fmt.Errorf("call get_balance: %w", err)
	}
	fmt.Printf("get_balance success=%t data=%s\n", balance.Success, balance.Data)

	reply, err := client.Chat(ctx, bankmcp.ChatRequest{
		Message: message,
		Context: bankmcp.ChatContext{IncludeBalance: true},
	})
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	fmt.Printf("assistant: %s\n", reply.Response)
	if reply.Operation != nil {
		fmt.Printf("proposed %s operation %s: %v\n", reply.Operation.Type, reply.OperationID, reply.Operation.Data)
	}
	return nil
}
