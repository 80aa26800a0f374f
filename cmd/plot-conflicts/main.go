// Tool for plotting how many pages claim the same Wikidata item.
//
// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"compress/gzip"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"

	"github.com/fogleman/gg"
)

func main() {
	font := flag.String("font", "./RobotoSlab-Light.ttf", "path to label font")
	duplicates := flag.String("duplicates", "qid-duplicates.csv.gz", "path to duplicate claims file")
	out := flag.String("out", "qid-conflicts.png", "path to output file being written")
	flag.Parse()
	if err := PlotConflicts(*font, *duplicates, *out); err != nil {
		log.Fatal(err)
	}
}

// countClaimants tallies the duplicated items by how many pages claim
// them: counts[3] is the number of items claimed by exactly 3 pages.
// Rows are ragged, one column per claiming page after the count, and
// page titles may contain commas, so this has to be real CSV parsing.
func countClaimants(r io.Reader) (map[int]int64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	counts := make(map[int]int64)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line += 1
		if line == 1 { // CSV header
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: less than 2 columns", line)
		}
		claimants, err := strconv.Atoi(record[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		counts[claimants] += 1
	}
	return counts, nil
}

func PlotConflicts(fontPath, duplicatesPath, outPath string) error {
	axisWidth := 35.0
	plotWidth := 1000.0
	dc := gg.NewContext(int(plotWidth+axisWidth), int(plotWidth+axisWidth))
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)

	font, err := gg.LoadFontFace(fontPath, 18.0)
	if err != nil {
		return err
	}

	smallFont, err := gg.LoadFontFace(fontPath, 11.0)
	if err != nil {
		return err
	}

	duplicatesFile, err := os.Open(duplicatesPath)
	if err != nil {
		return err
	}
	defer duplicatesFile.Close()

	duplicatesReader, err := gzip.NewReader(duplicatesFile)
	if err != nil {
		return err
	}

	counts, err := countClaimants(duplicatesReader)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		return fmt.Errorf("%s: no duplicate claims to plot", duplicatesPath)
	}

	maxClaimants := 0
	var maxCount int64
	for claimants, count := range counts {
		if claimants > maxClaimants {
			maxClaimants = claimants
		}
		if count > maxCount {
			maxCount = count
		}
	}

	// Counts decay fast with the number of claimants, so the Y axis
	// is log10. Every item in the file has at least 2 claimants.
	scaleX := plotWidth / float64(maxClaimants-1)
	scaleY := plotWidth / math.Ceil(math.Log10(float64(maxCount)+1))

	dc.SetRGB(0, 0.4, 1)
	for claimants, count := range counts {
		x := axisWidth + float64(claimants-2)*scaleX
		height := math.Log10(float64(count)+1) * scaleY
		dc.DrawRectangle(x+2, plotWidth-height, scaleX-4, height)
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	for claimants := 2; claimants <= maxClaimants; claimants++ {
		x := axisWidth + (float64(claimants-2)+0.5)*scaleX
		dc.MoveTo(x, plotWidth)
		dc.LineTo(x, plotWidth+5)
		dc.Stroke()
		dc.SetFontFace(font)
		label := strconv.Itoa(claimants)
		labelWidth, _ := dc.MeasureString(label)
		dc.DrawString(label, x-labelWidth/2, plotWidth+23)
	}

	dc.SetFontFace(font)
	w, _ := dc.MeasureString("Pages per item")
	dc.DrawString("Pages per item", axisWidth+(plotWidth-w)/2, plotWidth-12)

	for i := 0; i <= int(math.Ceil(math.Log10(float64(maxCount)+1))); i++ {
		y := plotWidth - float64(i)*scaleY
		dc.MoveTo(axisWidth-5, y)
		dc.LineTo(axisWidth, y)
		dc.Stroke()
		dc.SetFontFace(font)
		eWidth, eHeight := dc.MeasureString("10")
		dc.DrawString("10", 5, y)
		dc.SetFontFace(smallFont)
		dc.DrawString(strconv.Itoa(i), 5+eWidth, y-eHeight/2)
	}

	dc.SetFontFace(font)
	dc.Push()
	dc.RotateAbout(-math.Pi/2, plotWidth/2, plotWidth/2)
	dc.DrawString("Items", plotWidth/2, axisWidth+24)
	dc.Pop()

	dc.MoveTo(axisWidth, 0)
	dc.LineTo(axisWidth, plotWidth)
	dc.LineTo(axisWidth+plotWidth, plotWidth)
	dc.Stroke()

	return dc.SavePNG(outPath)
}
