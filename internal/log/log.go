// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package log

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// Singleton log writer. Writes to stdout, and optionally to a file.
// Does not add prefixes, or force newlines.

var (
	mu        sync.Mutex
	stdout    io.Writer = os.Stdout
	logFile   *bufio.Writer // The optional additional file to log into
	logFileOS *os.File
)

type teeWriter struct{}

// Writer for progress output to stdout and the optional log file
var Writer io.Writer = teeWriter{}

func (teeWriter) Write(p []byte) (n int, err error) {
	mu.Lock()
	defer mu.Unlock()
	n, err = stdout.Write(p)
	if err != nil || logFile == nil {
		return n, err
	}
	return logFile.Write(p)
}

// Enables logging to file, closing any previous log file
func AlsoToFile(fileName string) (err error) {
	mu.Lock()
	defer mu.Unlock()
	if err = closeFile(); err != nil {
		return err
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	logFileOS, logFile = f, bufio.NewWriter(f)
	return nil
}

func closeFile() error {
	if logFile == nil {
		return nil
	}
	if err := logFile.Flush(); err != nil {
		return err
	}
	err := logFileOS.Close()
	logFile, logFileOS = nil, nil
	return err
}

func Printf(format string, args ...interface{}) (n int, err error) {
	return fmt.Fprintf(Writer, format, args...)
}

func Println(args ...interface{}) (n int, err error) {
	return fmt.Fprintln(Writer, args...)
}

// Prints the message, closes the log file and exits with status 1
func Fatalf(format string, args ...interface{}) {
	Printf(format, args...)
	Close()
	os.Exit(1)
}

// Flushes the log file to disk
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	if err := logFile.Flush(); err != nil {
		return err
	}
	return logFileOS.Sync()
}

// Flushes and closes the log file, if any
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return closeFile()
}
