package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
)

// runInteractive drops into a prompt driving the client by hand.
func (a *app) runInteractive() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lwm2m> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Type 'help' for commands.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			printHelp()
		case "bootstrap":
			if a.bootstrap == nil {
				fmt.Println("no bootstrap server configured")
				continue
			}
			a.client.Bootstrap(a.bootstrap)
		case "register":
			if a.security == nil {
				fmt.Println("no server credentials; bootstrap first or configure server_uri")
				continue
			}
			a.client.Register(a.security, a.objects())
		case "update":
			var lifetime int64
			if len(fields) > 1 {
				n, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					fmt.Println("usage: update [lifetime-seconds]")
					continue
				}
				lifetime = n
			}
			a.client.UpdateRegistration(lifetime)
		case "unregister":
			a.client.Unregister()
		case "set":
			if len(fields) != 3 {
				fmt.Println("usage: set </oid/iid/rid> <value>")
				continue
			}
			a.setCommand(fields[1], fields[2])
		case "get":
			if len(fields) != 2 {
				fmt.Println("usage: get </oid/iid/rid>")
				continue
			}
			a.getCommand(fields[1])
		case "exit", "quit":
			return nil
		default:
			fmt.Printf("unknown command %q; try 'help'\n", fields[0])
		}
	}
}

func printHelp() {
	fmt.Print(`Commands:
  bootstrap            request provisioning from the bootstrap server
  register             register with the LWM2M server
  update [lifetime]    refresh the registration
  unregister           remove the registration
  get <path>           read a resource, e.g. get /42/0/1
  set <path> <value>   write a resource, e.g. set /42/0/1 NewValue
  exit                 quit
`)
}

func (a *app) setCommand(rawPath, rawValue string) {
	path, err := model.ParsePath(rawPath)
	if err != nil {
		fmt.Println("bad path:", err)
		return
	}
	r, err := a.client.Engine().Tree().ResolveResource(path)
	if err != nil {
		fmt.Println("unknown resource:", err)
		return
	}
	value, err := parseValue(r.Type(), rawValue)
	if err != nil {
		fmt.Println("bad value:", err)
		return
	}
	if err := a.client.SetResourceValue(path, value); err != nil {
		fmt.Println("set failed:", err)
		return
	}
	fmt.Printf("%s = %v\n", path, value)
}

func (a *app) getCommand(rawPath string) {
	path, err := model.ParsePath(rawPath)
	if err != nil {
		fmt.Println("bad path:", err)
		return
	}
	r, err := a.client.Engine().Tree().ResolveResource(path)
	if err != nil {
		fmt.Println("unknown resource:", err)
		return
	}
	if r.Multiple() {
		for _, ri := range r.Instances() {
			fmt.Printf("%s/%d = %v\n", path, ri.ID(), ri.Value())
		}
		return
	}
	fmt.Printf("%s = %v\n", path, r.Value())
}

// parseValue interprets a command-line literal for the resource type.
func parseValue(t model.ValueType, raw string) (any, error) {
	switch t {
	case model.TypeString:
		return raw, nil
	case model.TypeInteger, model.TypeTime:
		return strconv.ParseInt(raw, 10, 64)
	case model.TypeFloat:
		return strconv.ParseFloat(raw, 64)
	case model.TypeBoolean:
		return strconv.ParseBool(raw)
	case model.TypeOpaque:
		return []byte(raw), nil
	default:
		return nil, fmt.Errorf("unsupported type %s", t)
	}
}
